package fetcher_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tonearm/internal/fetcher"
	"tonearm/internal/procexec"
	"tonearm/internal/progress"
	"tonearm/internal/services"
	"tonearm/internal/testsupport"
)

func writingHandler(lines ...string) func(context.Context, testsupport.Call, testsupport.Emit) error {
	return func(_ context.Context, call testsupport.Call, emit testsupport.Emit) error {
		for _, line := range lines {
			emit(procexec.Stdout, line)
		}
		template := testsupport.ArgValue(call.Args, "-o")
		target := strings.Replace(template, "%(ext)s", "webm", 1)
		return os.WriteFile(target, []byte("audio-bytes"), 0o644)
	}
}

func TestDownloadBuildsArgsAndReportsProgress(t *testing.T) {
	workDir := t.TempDir()
	exec := &testsupport.ScriptedExecutor{Handler: writingHandler(
		"[youtube] abc: Downloading webpage",
		"[download]   5.0% of ~   3.10MiB at  Unknown B/s ETA Unknown",
		"[download]  42.5% of    3.10MiB at    1.20MiB/s ETA 00:03",
		"garbage line",
	)}
	client, err := fetcher.New("yt-dlp", 5, fetcher.WithExecutor(exec), fetcher.WithFFmpegLocation("/opt/ffmpeg"))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	var updates []progress.Update
	raw, err := client.Download(context.Background(), "https://youtu.be/abc", workDir, "tonearm-job1", func(u progress.Update) {
		updates = append(updates, u)
	})
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if filepath.Base(raw) != "tonearm-job1.raw.webm" {
		t.Fatalf("unexpected raw file %q", raw)
	}

	calls := exec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(calls))
	}
	args := strings.Join(calls[0].Args, " ")
	for _, want := range []string{
		"-f bestaudio/best", "--no-playlist", "--newline", "--force-overwrites", "--no-part",
		"--ffmpeg-location /opt/ffmpeg", "-- https://youtu.be/abc",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in args: %s", want, args)
		}
	}
	if got := testsupport.ArgValue(calls[0].Args, "-o"); got != filepath.Join(workDir, "tonearm-job1.raw.%(ext)s") {
		t.Fatalf("unexpected output template %q", got)
	}

	if len(updates) != 3 {
		t.Fatalf("expected 3 progress updates, got %d: %+v", len(updates), updates)
	}
	if updates[0].Rate != "" || updates[0].ETA != "" {
		t.Fatalf("unknown rate/eta should be dropped: %+v", updates[0])
	}
	if updates[1].Percent != 42.5 || updates[1].Rate != "1.20MiB/s" || updates[1].ETA != "00:03" {
		t.Fatalf("unexpected parsed update: %+v", updates[1])
	}
	if updates[2].Percent != 100 {
		t.Fatalf("expected final 100%% update, got %+v", updates[2])
	}
}

func TestDownloadMissingOutput(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "tonearm-job1.raw.webm.part"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	client, _ := fetcher.New("yt-dlp", 5, fetcher.WithExecutor(&testsupport.ScriptedExecutor{}))

	_, err := client.Download(context.Background(), "https://youtu.be/abc", workDir, "tonearm-job1", nil)
	if services.KindOf(err) != services.KindMissingOutput {
		t.Fatalf("expected missing output, got %v", err)
	}
}

func TestDownloadEngineFailureCarriesDiagnostic(t *testing.T) {
	exec := &testsupport.ScriptedExecutor{Handler: func(_ context.Context, _ testsupport.Call, emit testsupport.Emit) error {
		emit(procexec.Stderr, "ERROR: [youtube] abc: Video unavailable")
		emit(procexec.Stderr, "WARNING: trailing noise")
		return &procexec.ExitError{Binary: "yt-dlp", Code: 1, LastStderr: "WARNING: trailing noise"}
	}}
	client, _ := fetcher.New("yt-dlp", 5, fetcher.WithExecutor(exec))

	_, err := client.Download(context.Background(), "https://youtu.be/abc", t.TempDir(), "tonearm-job1", nil)
	if services.KindOf(err) != services.KindAcquisitionFailed {
		t.Fatalf("expected acquisition failure, got %v", err)
	}
	if got := services.UserMessage(err); got != "[youtube] abc: Video unavailable" {
		t.Fatalf("unexpected user message %q", got)
	}
}

func blockUntilDone(ctx context.Context, _ testsupport.Call, _ testsupport.Emit) error {
	<-ctx.Done()
	return fmt.Errorf("yt-dlp killed: %w", ctx.Err())
}

func TestDownloadTimeout(t *testing.T) {
	client, _ := fetcher.New("yt-dlp", 1, fetcher.WithExecutor(&testsupport.ScriptedExecutor{Handler: blockUntilDone}))

	start := time.Now()
	_, err := client.Download(context.Background(), "https://youtu.be/abc", t.TempDir(), "tonearm-job1", nil)
	if services.KindOf(err) != services.KindAcquisitionTimeout {
		t.Fatalf("expected acquisition timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout was not enforced")
	}
}

func TestDownloadCancelled(t *testing.T) {
	client, _ := fetcher.New("yt-dlp", 30, fetcher.WithExecutor(&testsupport.ScriptedExecutor{Handler: blockUntilDone}))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := client.Download(ctx, "https://youtu.be/abc", t.TempDir(), "tonearm-job1", nil)
	if services.KindOf(err) != services.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestDownloadMissingBinary(t *testing.T) {
	exec := &testsupport.ScriptedExecutor{Handler: func(context.Context, testsupport.Call, testsupport.Emit) error {
		return services.Wrap(services.ErrDependencyMissing, "", "yt-dlp", "binary not found", os.ErrNotExist)
	}}
	client, _ := fetcher.New("yt-dlp", 5, fetcher.WithExecutor(exec))

	_, err := client.Download(context.Background(), "https://youtu.be/abc", t.TempDir(), "tonearm-job1", nil)
	if services.KindOf(err) != services.KindDependencyMissing {
		t.Fatalf("expected dependency missing, got %v", err)
	}
}

func TestDownloadRequiresReference(t *testing.T) {
	client, _ := fetcher.New("yt-dlp", 5, fetcher.WithExecutor(&testsupport.ScriptedExecutor{}))
	_, err := client.Download(context.Background(), " ", t.TempDir(), "tonearm-job1", nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInfoParsesRecords(t *testing.T) {
	exec := &testsupport.ScriptedExecutor{Handler: func(_ context.Context, call testsupport.Call, emit testsupport.Emit) error {
		if !strings.Contains(strings.Join(call.Args, " "), "--dump-json --no-playlist --skip-download") {
			return errors.New("unexpected args")
		}
		emit(procexec.Stdout, `{"id":"abc","title":"Song","duration":212.5,"thumbnail":"https://i.ytimg.com/vi/abc/maxresdefault.jpg","thumbnails":[{"url":"https://i.ytimg.com/vi/abc/hqdefault.jpg","width":480,"height":360}],"channel":"","uploader":"Band","webpage_url":"https://www.youtube.com/watch?v=abc"}`)
		emit(procexec.Stdout, `not json`)
		emit(procexec.Stdout, `{"id":"def","title":"Other","channel":"Label"}`)
		return nil
	}}
	client, _ := fetcher.New("yt-dlp", 5, fetcher.WithExecutor(exec))

	records, err := client.Info(context.Background(), "https://www.youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("Info returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Duration != 212.5 || len(records[0].Thumbnails) != 1 || records[0].Artist() != "Band" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Artist() != "Label" {
		t.Fatalf("expected channel to win over uploader, got %q", records[1].Artist())
	}
}

func TestInfoWithoutRecords(t *testing.T) {
	client, _ := fetcher.New("yt-dlp", 5, fetcher.WithExecutor(&testsupport.ScriptedExecutor{}))
	if _, err := client.Info(context.Background(), "https://youtu.be/abc"); services.KindOf(err) != services.KindMissingOutput {
		t.Fatalf("expected missing output, got %v", err)
	}
}

func TestInfoDecodesRecordsLargerThanALine(t *testing.T) {
	script := `printf '{"id":"big","title":"Long","description":"'
head -c 1200000 /dev/zero | tr '\000' a
printf '"}\n'
`
	binary := testsupport.WriteScript(t, t.TempDir(), "yt-dlp", script)
	client, err := fetcher.New(binary, 30)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	records, err := client.Info(context.Background(), "https://www.youtube.com/watch?v=big")
	if err != nil {
		t.Fatalf("Info returned error: %v", err)
	}
	if len(records) != 1 || records[0].Title != "Long" {
		t.Fatalf("unexpected records %+v", records)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Info took %s", elapsed)
	}
}

func TestDownloadOverlongOutputFailsWithoutWaitingForTimeout(t *testing.T) {
	script := `head -c 1200000 /dev/zero | tr '\000' a
echo
sleep 30
`
	binary := testsupport.WriteScript(t, t.TempDir(), "yt-dlp", script)
	client, err := fetcher.New(binary, 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	_, err = client.Download(context.Background(), "https://example.com/x", t.TempDir(), "tonearm-long", nil)
	if kind := services.KindOf(err); kind != services.KindAcquisitionFailed {
		t.Fatalf("expected acquisition_failed, got %s (%v)", kind, err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Download waited %s for a stuck process", elapsed)
	}
}
