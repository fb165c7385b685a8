package gormdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocdoni/saas-billing/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormSet[T any] struct {
	db      *gorm.DB
	changes db.ChangeSet[T]
}

func newGormSet[T any](gdb *gorm.DB) *gormSet[T] {
	return &gormSet[T]{db: gdb}
}

// column resolves a Go field name, or a column name, to the column of T.
func (s *gormSet[T]) column(field string) (string, error) {
	stmt := &gorm.Statement{DB: s.db}
	if err := stmt.Parse(new(T)); err != nil {
		return "", err
	}
	f := stmt.Schema.LookUpField(field)
	if f == nil || f.DBName == "" {
		return "", fmt.Errorf("%w: unknown field %q on %s", db.ErrInvalidData, field, stmt.Schema.Name)
	}
	return f.DBName, nil
}

func (s *gormSet[T]) Find(ctx context.Context, id string) (*T, error) {
	return s.first(ctx, clause.Eq{Column: clause.PrimaryColumn, Value: id})
}

func (s *gormSet[T]) First(ctx context.Context, field string, value any) (*T, error) {
	col, err := s.column(field)
	if err != nil {
		return nil, err
	}
	return s.first(ctx, clause.Eq{Column: clause.Column{Name: col}, Value: value})
}

func (s *gormSet[T]) Where(ctx context.Context, field string, value any) ([]*T, error) {
	col, err := s.column(field)
	if err != nil {
		return nil, err
	}
	items := []*T{}
	if err := s.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: col}, Value: value}).
		Order("created_at").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *gormSet[T]) All(ctx context.Context) ([]*T, error) {
	items := []*T{}
	if err := s.db.WithContext(ctx).Order("created_at").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *gormSet[T]) Add(item *T)    { s.changes.Add(item) }
func (s *gormSet[T]) Update(item *T) { s.changes.Update(item) }
func (s *gormSet[T]) Remove(item *T) { s.changes.Remove(item) }

func (s *gormSet[T]) first(ctx context.Context, cond clause.Expression) (*T, error) {
	item := new(T)
	if err := s.db.WithContext(ctx).Where(cond).Order("created_at").Take(item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *gormSet[T]) flush(tx *gorm.DB) (int, int, error) {
	pending := s.changes.Pending()
	affected := 0
	for _, c := range pending {
		var res *gorm.DB
		switch c.Kind {
		case db.ChangeAdd:
			res = tx.Create(c.Item)
		case db.ChangeUpdate:
			res = tx.Save(c.Item)
		case db.ChangeRemove:
			res = tx.Delete(c.Item)
		}
		if res.Error != nil {
			return 0, 0, fmt.Errorf("cannot %s %T %s: %w", c.Kind, c.Item, db.IDOf(c.Item), res.Error)
		}
		affected += int(res.RowsAffected)
	}
	return len(pending), affected, nil
}

func (s *gormSet[T]) commit(stored int) {
	if stored > 0 {
		s.changes.Commit(stored)
	}
}
