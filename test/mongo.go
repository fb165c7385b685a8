package test

import (
	"context"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// MongoImage is the MongoDB image started for the storage tests.
	MongoImage = "mongo:7"
	// MongoPort is the port exposed by the MongoDB test container.
	MongoPort = "27017/tcp"
)

// StartMongoContainer starts a standalone MongoDB container. Callers get the
// connection URI with Endpoint(ctx, "mongodb") and must Terminate it.
func StartMongoContainer(ctx context.Context) (testcontainers.Container, error) {
	return testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        MongoImage,
				ExposedPorts: []string{MongoPort},
				WaitingFor: wait.ForAll(
					wait.ForLog("Waiting for connections"),
					wait.ForListeningPort(nat.Port(MongoPort)),
				).WithDeadline(2 * time.Minute),
			},
			Started: true,
		})
}

// RandomDatabaseName returns a database name that does not collide between
// test packages sharing a container.
func RandomDatabaseName() string {
	return "billing-test-" + uuid.NewString()[:8]
}
