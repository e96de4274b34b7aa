package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"server/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func response(status int, contentType, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestSceneClipArgs(t *testing.T) {
	t.Parallel()
	e := NewFFmpegEncoder(FFmpegOptions{Width: 1280, Height: 720, FPS: 30})
	args := e.sceneClipArgs(domain.SceneAsset{
		SceneID:     2,
		ImagePath:   "/w/scene_2.png",
		AudioPath:   "/w/scene_2.mp3",
		DurationSec: 5,
	}, "/w/scene_2.mp4")

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-loop 1",
		"-i /w/scene_2.png",
		"-i /w/scene_2.mp3",
		"d=150:s=1280x720",
		"-t 5",
		"-c:v libx264",
		"-c:a aac",
		"/w/scene_2.mp4",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv %q missing %q", joined, want)
		}
	}
}

func TestConcatAndBurnArgs(t *testing.T) {
	t.Parallel()
	concat := strings.Join(concatArgs("/w/concat.txt", "/w/tmp.mp4"), " ")
	if !strings.Contains(concat, "-f concat -safe 0 -i /w/concat.txt -c copy /w/tmp.mp4") {
		t.Fatalf("concat argv = %q", concat)
	}
	burn := strings.Join(burnSubsArgs("/w/tmp.mp4", "/w/story.srt", "/w/final.mp4"), " ")
	if !strings.Contains(burn, "-vf subtitles=/w/story.srt") {
		t.Fatalf("burn argv = %q", burn)
	}
}

func TestFFmpegEncodeRunsClipsInSceneOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	e := NewFFmpegEncoder(FFmpegOptions{})
	var outputs []string
	e.runCmd = func(_ context.Context, _ string, args []string) error {
		outputs = append(outputs, args[len(args)-1])
		return nil
	}

	err := e.Encode(context.Background(), EncodeRequest{
		Scenes: []domain.SceneAsset{
			{SceneID: 0, ImagePath: "a.png", AudioPath: "a.mp3", DurationSec: 4},
			{SceneID: 1, ImagePath: "b.png", AudioPath: "b.mp3", DurationSec: 5},
			{SceneID: 2, ImagePath: "c.png", AudioPath: "c.mp3", DurationSec: 6},
		},
		SRTPath:    filepath.Join(dir, "story.srt"),
		WorkDir:    dir,
		OutputPath: filepath.Join(dir, "final.mp4"),
	})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	// Three clips, one concat, one subtitle burn.
	if len(outputs) != 5 {
		t.Fatalf("ffmpeg invoked %d times, want 5: %v", len(outputs), outputs)
	}
	for i := 0; i < 3; i++ {
		want := filepath.Join(dir, fmt.Sprintf("scene_%d.mp4", i))
		if outputs[i] != want {
			t.Fatalf("clip %d output = %q, want %q", i, outputs[i], want)
		}
	}

	listData, err := os.ReadFile(filepath.Join(dir, "concat.txt"))
	if err != nil {
		t.Fatalf("concat list missing: %v", err)
	}
	list := string(listData)
	if strings.Index(list, "scene_0.mp4") > strings.Index(list, "scene_1.mp4") ||
		strings.Index(list, "scene_1.mp4") > strings.Index(list, "scene_2.mp4") {
		t.Fatalf("concat list out of order:\n%s", list)
	}
}

func writeSceneFiles(t *testing.T, dir string) EncodeRequest {
	t.Helper()
	img := filepath.Join(dir, "scene_0.png")
	aud := filepath.Join(dir, "scene_0.mp3")
	srt := filepath.Join(dir, "story.srt")
	for _, p := range []string{img, aud, srt} {
		if err := os.WriteFile(p, []byte("data-"+filepath.Base(p)), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	return EncodeRequest{
		Scenes:     []domain.SceneAsset{{SceneID: 0, ImagePath: img, AudioPath: aud, DurationSec: 5}},
		SRTPath:    srt,
		WorkDir:    dir,
		OutputPath: filepath.Join(dir, "final.mp4"),
	}
}

func TestWorkerClientEncodeWritesValidatedOutput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	req := writeSceneFiles(t, dir)

	video := strings.Repeat("v", 4096)
	client, err := NewWorkerClient(WorkerClientOptions{
		BaseURL:  "http://worker.test",
		MinBytes: 1024,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/render" {
				t.Errorf("path = %q, want /render", r.URL.Path)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			} else {
				if got := r.MultipartForm.Value["scenes"]; len(got) != 1 || !strings.Contains(got[0], `"duration_sec":5`) {
					t.Errorf("scenes field = %v", got)
				}
				if files := r.MultipartForm.File["files"]; len(files) != 2 {
					t.Errorf("files parts = %d, want 2", len(files))
				}
				if subs := r.MultipartForm.File["subs"]; len(subs) != 1 {
					t.Errorf("subs parts = %d, want 1", len(subs))
				}
			}
			return response(http.StatusOK, "video/mp4", video), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewWorkerClient returned error: %v", err)
	}

	if err := client.Encode(context.Background(), req); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	out, err := os.ReadFile(req.OutputPath)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if len(out) != len(video) {
		t.Fatalf("output size = %d, want %d", len(out), len(video))
	}
}

func TestWorkerClientRejectsTinyBody(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	req := writeSceneFiles(t, dir)

	client, err := NewWorkerClient(WorkerClientOptions{
		BaseURL:  "http://worker.test",
		MinBytes: 1024,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return response(http.StatusOK, "video/mp4", strings.Repeat("x", 26)), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewWorkerClient returned error: %v", err)
	}

	encodeErr := client.Encode(context.Background(), req)
	var se *domain.SizeError
	if !errors.As(encodeErr, &se) {
		t.Fatalf("error = %v, want SizeError", encodeErr)
	}
	if se.Got != 26 {
		t.Fatalf("SizeError.Got = %d, want 26", se.Got)
	}
	if _, statErr := os.Stat(req.OutputPath); !os.IsNotExist(statErr) {
		t.Fatal("undersized response was written to the output path")
	}
}

func TestWorkerClientRejectsWrongContentType(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	req := writeSceneFiles(t, dir)

	client, err := NewWorkerClient(WorkerClientOptions{
		BaseURL: "http://worker.test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return response(http.StatusOK, "application/json", `{"error":"oops"}`), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewWorkerClient returned error: %v", err)
	}

	encodeErr := client.Encode(context.Background(), req)
	var cte *domain.ContentTypeError
	if !errors.As(encodeErr, &cte) {
		t.Fatalf("error = %v, want ContentTypeError", encodeErr)
	}
}

func TestWorkerClientMapsHTTPErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	req := writeSceneFiles(t, dir)

	client, err := NewWorkerClient(WorkerClientOptions{
		BaseURL: "http://worker.test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return response(http.StatusInternalServerError, "text/plain", "ffmpeg exploded"), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewWorkerClient returned error: %v", err)
	}

	encodeErr := client.Encode(context.Background(), req)
	var up *domain.UpstreamError
	if !errors.As(encodeErr, &up) {
		t.Fatalf("error = %v, want UpstreamError", encodeErr)
	}
	if up.Status != http.StatusInternalServerError {
		t.Fatalf("Status = %d, want 500", up.Status)
	}
}
