package main

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/imagepress/imagepress/remote"
	"github.com/imagepress/imagepress/remote/remotetest"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startBackend(t *testing.T) (*remotetest.Server, *remote.Client) {
	t.Helper()
	srv := remotetest.New()
	srv.SetLogger(quietLogger())
	url := srv.Start()
	t.Cleanup(srv.Close)

	c, err := remote.New(remote.Config{BaseURL: url})
	if err != nil {
		t.Fatal(err)
	}
	c.SuppressLogs()
	return srv, c
}

func uploadNames(t *testing.T, c *remote.Client, names ...string) []string {
	t.Helper()
	var ids []string
	for _, name := range names {
		res, err := c.Upload(context.Background(), name, strings.NewReader("data"))
		if err != nil {
			t.Fatalf("upload %s: %v", name, err)
		}
		ids = append(ids, res.ImageID)
	}
	return ids
}

func TestCollectGarbageDryRun(t *testing.T) {
	srv, c := startBackend(t)
	ids := uploadNames(t, c, "a.jpg", "b.jpg")

	result, err := collectGarbage(context.Background(), c, append(ids, "gone"), true, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 3 || result.FoundCount != 2 || result.MissingCount != 1 || result.DeletedCount != 0 {
		t.Errorf("result = %+v", result)
	}
	if srv.Len() != 2 || srv.Calls(remotetest.OpDelete) != 0 {
		t.Errorf("dry run deleted images: len=%d deletes=%d", srv.Len(), srv.Calls(remotetest.OpDelete))
	}
}

func TestCollectGarbageForce(t *testing.T) {
	srv, c := startBackend(t)
	ids := uploadNames(t, c, "a.jpg", "b.jpg", "c.jpg")
	srv.Fail(remotetest.OpDelete, "b.jpg", "permission denied")

	result, err := collectGarbage(context.Background(), c, ids, false, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.DeletedCount != 2 || result.FailedCount != 1 {
		t.Fatalf("result = %+v", result)
	}
	if reason := result.Failed[ids[1]]; reason != "permission denied" {
		t.Errorf("failure reason = %q", reason)
	}
	if srv.Len() != 1 {
		t.Errorf("backend holds %d images, want 1", srv.Len())
	}
}

func TestCollectGarbageStopsOnCancel(t *testing.T) {
	_, c := startBackend(t)
	ids := uploadNames(t, c, "a.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := collectGarbage(ctx, c, ids, false, quietLogger())
	if err == nil {
		t.Fatal("expected context error")
	}
	if result.DeletedCount != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestGCResult_Structure(t *testing.T) {
	result := &GCResult{Total: 4, FoundCount: 3, MissingCount: 1, DeletedCount: 2, FailedCount: 1}
	if result.FoundCount+result.MissingCount != result.Total {
		t.Errorf("found + missing should equal total: %+v", result)
	}
}
