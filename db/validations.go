package db

import (
	"github.com/vocdoni/saas-billing/internal"
	"go.mongodb.org/mongo-driver/bson"
)

var collectionsValidators = map[string]bson.M{
	"users":         usersCollectionValidator,
	"subscriptions": subscriptionsCollectionValidator,
	"invoices":      invoicesCollectionValidator,
	"creditCards":   creditCardsCollectionValidator,
}

var usersCollectionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{"_id", "email"},
		"properties": bson.M{
			"email": bson.M{
				"bsonType":    "string",
				"description": "must be an email and is required",
				"pattern":     internal.EmailRegexTemplate,
			},
		},
	},
}

var subscriptionsCollectionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{"_id", "userID", "stripeSubscriptionID"},
		"properties": bson.M{
			"userID": bson.M{
				"bsonType":    "string",
				"description": "must be a string and is required",
			},
			"stripeSubscriptionID": bson.M{
				"bsonType":    "string",
				"description": "must be a string and is required",
			},
			"taxPercent": bson.M{
				"bsonType":    "decimal",
				"description": "must be a decimal",
			},
		},
	},
}

var invoicesCollectionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{"_id", "stripeInvoiceID", "currency"},
		"properties": bson.M{
			"stripeInvoiceID": bson.M{
				"bsonType":    "string",
				"description": "must be a string and is required",
			},
			"currency": bson.M{
				"bsonType":    "string",
				"description": "must be a three letter currency code",
				"pattern":     `^[a-z]{3}$`,
			},
		},
	},
}

var creditCardsCollectionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{"_id", "userID", "last4"},
		"properties": bson.M{
			"last4": bson.M{
				"bsonType":    "string",
				"description": "must hold the last four digits of the card",
				"pattern":     `^\d{4}$`,
			},
			"expMonth": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  1,
				"maximum":  12,
			},
		},
	},
}
