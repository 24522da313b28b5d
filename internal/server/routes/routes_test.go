package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/download"
	"github.com/any-hub/imagehub/internal/imagecache"
	"github.com/any-hub/imagehub/internal/imaging"
)

func TestCacheRoutesReportAndClear(t *testing.T) {
	images := newTestCache(t)
	app := fiber.New()
	RegisterCacheRoutes(app, images)

	img := imaging.New(image.NewRGBA(image.Rect(0, 0, 2, 2)), imaging.FormatPNG)
	if err := <-images.Store("k1", img, []byte("abc"), true); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	var status cacheStatusPayload
	doJSON(t, app, "GET", "/-/cache", fiber.StatusOK, &status)
	if status.Memory.Count != 1 || status.Memory.Cost != img.Cost() {
		t.Fatalf("unexpected memory stats %+v", status.Memory)
	}
	if status.Disk.Size.FileCount != 1 || status.Disk.Size.TotalBytes != 3 {
		t.Fatalf("unexpected disk stats %+v", status.Disk)
	}

	var entry map[string]any
	doJSON(t, app, "GET", "/-/cache/entry?key=k1", fiber.StatusOK, &entry)
	if entry["memory"] != true || entry["disk"] != true {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry["file"] != cache.FileNameForKey("k1") {
		t.Fatalf("unexpected file name %v", entry["file"])
	}

	doJSON(t, app, "DELETE", "/-/cache?scope=memory", fiber.StatusOK, nil)
	if count, _ := images.MemoryStats(); count != 0 {
		t.Fatalf("memory should be cleared, got %d", count)
	}
	if !images.DiskExists("k1") {
		t.Fatalf("disk entry should survive memory clear")
	}

	doJSON(t, app, "DELETE", "/-/cache/entry?key=k1", fiber.StatusOK, nil)
	if images.DiskExists("k1") {
		t.Fatalf("disk entry should be removed")
	}

	doJSON(t, app, "DELETE", "/-/cache?scope=bogus", fiber.StatusBadRequest, nil)
	doJSON(t, app, "GET", "/-/cache/entry", fiber.StatusBadRequest, nil)
}

func TestCacheSweepRoute(t *testing.T) {
	images := newTestCache(t)
	app := fiber.New()
	RegisterCacheRoutes(app, images)

	if err := <-images.StoreData("k1", []byte("abc")); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	var result cache.SweepResult
	doJSON(t, app, "POST", "/-/cache/sweep", fiber.StatusOK, &result)
	if result.Removed != 0 {
		t.Fatalf("fresh entries should survive the sweep, got %+v", result)
	}
}

func TestDownloaderRoutes(t *testing.T) {
	fetcher := download.FetcherFunc(func(ctx context.Context, req download.Request) (*download.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	coordinator, err := download.New(download.DefaultConfig(), fetcher)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	defer coordinator.Close()

	app := fiber.New()
	RegisterDownloaderRoutes(app, coordinator)

	var stats download.Stats
	doJSON(t, app, "POST", "/-/downloader/suspend", fiber.StatusOK, &stats)
	if !stats.Suspended {
		t.Fatalf("expected suspended stats")
	}

	if _, err := coordinator.Subscribe("http://img.local/a.png", download.Options{}, nil, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var overview struct {
		Stats download.Stats      `json:"stats"`
		Tasks []download.TaskInfo `json:"tasks"`
	}
	doJSON(t, app, "GET", "/-/downloader", fiber.StatusOK, &overview)
	if overview.Stats.Pending != 1 || len(overview.Tasks) != 1 {
		t.Fatalf("unexpected overview %+v", overview)
	}

	doJSON(t, app, "POST", "/-/downloader/config?max_concurrent=2&order=lifo", fiber.StatusOK, &stats)
	if stats.MaxConcurrent != 2 || stats.Order != "lifo" {
		t.Fatalf("unexpected stats after config %+v", stats)
	}
	doJSON(t, app, "POST", "/-/downloader/config?max_concurrent=0", fiber.StatusBadRequest, nil)
	doJSON(t, app, "POST", "/-/downloader/config?order=random", fiber.StatusBadRequest, nil)

	doJSON(t, app, "POST", "/-/downloader/cancel", fiber.StatusOK, &stats)
	if stats.Pending != 0 {
		t.Fatalf("cancel should drop pending tasks, got %+v", stats)
	}

	doJSON(t, app, "POST", "/-/downloader/resume", fiber.StatusOK, &stats)
	if stats.Suspended {
		t.Fatalf("expected resumed stats")
	}
}

func TestMetricsRoute(t *testing.T) {
	app := fiber.New()
	RegisterMetricsRoute(app, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("go_goroutines")) {
		t.Fatalf("expected default collectors in output")
	}
}

func newTestCache(t *testing.T) *imagecache.Cache {
	t.Helper()
	disk, err := cache.New(memfs.New())
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	images, err := imagecache.New(imagecache.DefaultConfig(), disk)
	if err != nil {
		t.Fatalf("image cache: %v", err)
	}
	t.Cleanup(images.Close)
	return images
}

func doJSON(t *testing.T, app *fiber.App, method, target string, wantStatus int, out any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, target, err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d (%s)", method, target, wantStatus, resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
	}
}
