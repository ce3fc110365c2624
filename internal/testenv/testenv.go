//go:build integration

// Package testenv starts throwaway backing services for integration tests.
package testenv

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func start(t *testing.T, req testcontainers.ContainerRequest) (testcontainers.Container, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate %s: %v", req.Image, err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, nat.Port(req.ExposedPorts[0]))
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}
	return container, fmt.Sprintf("%s:%s", host, port.Port())
}

// Postgres returns a DSN for a fresh database.
func Postgres(t *testing.T) string {
	_, addr := start(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "pdx",
			"POSTGRES_PASSWORD": "pdx",
			"POSTGRES_DB":       "pdxfeed",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	})
	return fmt.Sprintf("postgres://pdx:pdx@%s/pdxfeed?sslmode=disable", addr)
}

// Mongo returns a URI for a single-node replica set; change streams need
// one.
func Mongo(t *testing.T) string {
	_, addr := start(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(time.Minute),
	})
	uri := fmt.Sprintf("mongodb://%s/?directConnection=true", addr)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	cfg := bson.M{"_id": "rs0", "members": bson.A{bson.M{"_id": 0, "host": "localhost:27017"}}}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetInitiate", Value: cfg}}).Err(); err != nil {
		t.Fatalf("replSetInitiate: %v", err)
	}
	for {
		var status struct {
			IsWritablePrimary bool `bson:"isWritablePrimary"`
		}
		err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&status)
		if err == nil && status.IsWritablePrimary {
			return uri
		}
		select {
		case <-ctx.Done():
			t.Fatalf("replica set never elected a primary")
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// RabbitMQ returns an AMQP URL.
func RabbitMQ(t *testing.T) string {
	_, addr := start(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
	})
	return fmt.Sprintf("amqp://guest:guest@%s/", addr)
}
