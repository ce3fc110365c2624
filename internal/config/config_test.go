package config

import (
	"testing"
	"time"
)

func unsetBuildEnv(t *testing.T) {
	for _, k := range []string{"BUILD_TARGET", "DOC_STORE", "BLOB_STORE", "NOTIFIER", "POSTGRES_DSN", "FIRESTORE_PROJECT_ID", "GCS_BUCKET", "TIMEZONE"} {
		t.Setenv("PDXFEED_"+k, "")
	}
}

func TestConfigLoad_LocalDefaults(t *testing.T) {
	unsetBuildEnv(t)
	t.Setenv("PDXFEED_BUILD_TARGET", "local")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.DocStore != "sqlite" || cfg.BlobStore != "fs" || cfg.Notifier != "local" {
		t.Fatalf("unexpected local drivers: %+v", cfg)
	}
	if cfg.SQLitePath != "pdxfeed.db" || cfg.BlobDir != "blobs" {
		t.Fatalf("unexpected local paths: %+v", cfg)
	}
	if cfg.ProfileCacheTTL != 5*time.Minute || cfg.ProfileCacheSize != 512 {
		t.Fatalf("unexpected cache defaults: %+v", cfg)
	}
}

func TestResolveDefaultsCloudDev(t *testing.T) {
	unsetBuildEnv(t)
	t.Setenv("PDXFEED_BUILD_TARGET", "cloud-dev")
	t.Setenv("PDXFEED_POSTGRES_DSN", "postgres://u:p@localhost/db")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.DocStore != "postgres" || cfg.Notifier != "postgres" || cfg.BlobStore != "fs" {
		t.Fatalf("unexpected cloud-dev drivers: %+v", cfg)
	}
}

func TestResolveDefaultsCloudDevRequiresDSN(t *testing.T) {
	unsetBuildEnv(t)
	t.Setenv("PDXFEED_BUILD_TARGET", "cloud-dev")
	if _, err := New(); err == nil {
		t.Fatal("expected error without POSTGRES_DSN")
	}
}

func TestResolveDefaultsCloud(t *testing.T) {
	cfg := &Config{BuildTarget: "cloud", FirestoreProjectID: "pdx", GCSBucket: "pdx-images"}
	if err := cfg.ResolveDefaults(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DocStore != "firestore" || cfg.BlobStore != "gcs" {
		t.Fatalf("unexpected cloud drivers: %+v", cfg)
	}
}

func TestResolveDefaultsExplicitOverride(t *testing.T) {
	cfg := &Config{BuildTarget: "local", DocStore: "mongo", BlobStore: "memory", Notifier: "amqp"}
	if err := cfg.ResolveDefaults(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DocStore != "mongo" || cfg.BlobStore != "memory" || cfg.Notifier != "amqp" {
		t.Fatalf("explicit drivers overwritten: %+v", cfg)
	}
}

func TestResolveDefaultsRejectsUnknown(t *testing.T) {
	cases := []Config{
		{BuildTarget: "mainframe"},
		{BuildTarget: "local", DocStore: "redis"},
		{BuildTarget: "local", BlobStore: "s3"},
		{BuildTarget: "local", Notifier: "kafka"},
		{BuildTarget: "local", Notifier: "postgres"},
		{BuildTarget: "local", Timezone: "Mars/Olympus"},
	}
	for _, c := range cases {
		c := c
		if err := c.ResolveDefaults(); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{Timezone: "America/Los_Angeles"}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc.String() != "America/Los_Angeles" {
		t.Fatalf("unexpected location %s", loc)
	}
}
