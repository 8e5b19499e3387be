package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"photo-indexer/internal/database"
	"photo-indexer/internal/identity"
	"photo-indexer/internal/pipeline"
	"photo-indexer/internal/startup"
)

func testConfig(t *testing.T) *startup.Config {
	t.Helper()
	dataDir := t.TempDir()
	return &startup.Config{
		LibraryDir:   t.TempDir(),
		DataDir:      dataDir,
		CitiesFile:   filepath.Join(dataDir, "cities.txt"),
		Port:         "0",
		MetricsPort:  "0",
		ScanSchedule: startup.DefaultScanSchedule,
		DatabasePath: filepath.Join(dataDir, "photos.db"),
		LockPath:     filepath.Join(dataDir, "pipeline.lock"),
	}
}

func executeCommand(t *testing.T, ctx *commandContext, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommandWith(ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func contextWith(cfg *startup.Config, people peopleStore) *commandContext {
	ctx := newCommandContext()
	ctx.loadConfig = func() (*startup.Config, error) { return cfg, nil }
	ctx.people = people
	return ctx
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()
	want := map[string]bool{"serve": false, "scan": false, "import-cities": false, "people": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if cmd.PersistentFlags().Lookup("verbose") == nil {
		t.Error("--verbose flag not registered")
	}
}

func TestConfigErrorStopsCommand(t *testing.T) {
	ctx := newCommandContext()
	ctx.loadConfig = func() (*startup.Config, error) { return nil, errors.New("bad config") }

	if _, err := executeCommand(t, ctx, "people", "prune"); err == nil || !strings.Contains(err.Error(), "bad config") {
		t.Errorf("err = %v, want config error", err)
	}
}

type fakePeople struct {
	persons []database.Person
	merged  [2]int64
	deleted int64
	renamed string
	err     error
}

func (f *fakePeople) ListPersons(context.Context) ([]database.Person, error) {
	return f.persons, f.err
}

func (f *fakePeople) MergePersons(_ context.Context, keep, absorbed int64) error {
	if f.err != nil {
		return f.err
	}
	f.merged = [2]int64{keep, absorbed}
	return nil
}

func (f *fakePeople) DeletePerson(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = id
	return nil
}

func (f *fakePeople) DeleteEmpty(context.Context) (int, error) {
	return 2, f.err
}

func (f *fakePeople) RenamePerson(_ context.Context, _ int64, name string) error {
	if f.err != nil {
		return f.err
	}
	f.renamed = name
	return nil
}

func TestPeopleCommands(t *testing.T) {
	alice := "Alice"
	people := &fakePeople{persons: []database.Person{
		{ID: 1, Name: &alice, PhotoCount: 12, CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{ID: 2, PhotoCount: 0, CreatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}}
	ctx := contextWith(testConfig(t), people)

	out, err := executeCommand(t, ctx, "people", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"Alice", "12", "ID"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	out, err = executeCommand(t, ctx, "people", "list", "--json")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	if !strings.Contains(out, `"name": "Alice"`) {
		t.Errorf("json output missing name:\n%s", out)
	}

	if _, err := executeCommand(t, ctx, "people", "merge", "1", "2"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if people.merged != [2]int64{1, 2} {
		t.Errorf("merged = %v, want [1 2]", people.merged)
	}

	if _, err := executeCommand(t, ctx, "people", "delete", "2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if people.deleted != 2 {
		t.Errorf("deleted = %d, want 2", people.deleted)
	}

	out, err = executeCommand(t, ctx, "people", "prune")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, "Removed 2 empty persons") {
		t.Errorf("prune output = %q", out)
	}

	if _, err := executeCommand(t, ctx, "people", "rename", "1", "Alice", "Smith"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if people.renamed != "Alice Smith" {
		t.Errorf("renamed = %q, want %q", people.renamed, "Alice Smith")
	}
}

func TestPeopleCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		err     error
		wantMsg string
	}{
		{"bad id", []string{"people", "delete", "abc"}, nil, "invalid person id"},
		{"zero id", []string{"people", "delete", "0"}, nil, "invalid person id"},
		{"missing person", []string{"people", "delete", "9"}, identity.ErrPersonNotFound, "person not found"},
		{"self merge", []string{"people", "merge", "3", "3"}, identity.ErrSamePerson, "into itself"},
		{"name taken", []string{"people", "rename", "1", "Bob"}, identity.ErrNameTaken, "already has that name"},
		{"wrong arg count", []string{"people", "merge", "1"}, nil, "accepts 2 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := contextWith(testConfig(t), &fakePeople{err: tt.err})
			_, err := executeCommand(t, ctx, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want message containing %q", err, tt.wantMsg)
			}
		})
	}
}

type fakeRunner struct {
	events  []pipeline.Progress
	summary pipeline.RunSummary
	err     error
	ch      chan pipeline.Progress
}

func (f *fakeRunner) Subscribe() (<-chan pipeline.Progress, func()) {
	f.ch = make(chan pipeline.Progress, len(f.events))
	return f.ch, func() { close(f.ch) }
}

func (f *fakeRunner) Run(context.Context, pipeline.Kind) (pipeline.RunSummary, error) {
	for _, ev := range f.events {
		f.ch <- ev
	}
	return f.summary, f.err
}

func TestRunScanPrintsProgress(t *testing.T) {
	start := time.Now()
	runner := &fakeRunner{
		events: []pipeline.Progress{
			{Stage: pipeline.StageDiscovery, Label: "Scanning library", Percent: 5},
			{Stage: pipeline.StageDiscovery, Label: "Scanning library", Percent: 8},
			{Stage: pipeline.StageDiscovery, Label: "Scanning library", Percent: 55},
			{Stage: pipeline.StageDiscovery, Label: "Scanning library", Percent: 100, Outcome: pipeline.OutcomeSuccess},
			{Stage: pipeline.StageMetadataEnrichment, Label: "Reading metadata", Percent: 0, Outcome: pipeline.OutcomePermanentFailure},
		},
		summary: pipeline.RunSummary{
			RunID: "run-1", Result: "failed", FailedStage: pipeline.StageMetadataEnrichment,
			StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond),
		},
		err: errors.New("disk gone"),
	}

	var out bytes.Buffer
	err := runScan(context.Background(), runner, pipeline.LibraryScan, &out)
	if err == nil || !strings.Contains(err.Error(), "stage metadata_enrichment") {
		t.Errorf("err = %v, want failed stage in message", err)
	}

	got := out.String()
	for _, want := range []string{
		"Scanning library 5%\n",
		"Scanning library 55%\n",
		"Scanning library: success\n",
		"Reading metadata: permanent failure\n",
		"Run run-1: failed in 1.5s\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Scanning library 8%") {
		t.Errorf("plain output should only print ten percent steps:\n%s", got)
	}
}

func TestRunScanAlreadyRunning(t *testing.T) {
	runner := &fakeRunner{err: pipeline.ErrAlreadyRunning}
	var out bytes.Buffer
	err := runScan(context.Background(), runner, pipeline.FullScan, &out)
	if !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}
}

type countingStarter struct {
	kinds []pipeline.Kind
}

func (c *countingStarter) Start(kind pipeline.Kind) (string, bool) {
	c.kinds = append(c.kinds, kind)
	return "run", true
}

func TestNewScheduler(t *testing.T) {
	cfg := testConfig(t)

	cfg.ScanSchedule = "off"
	c, err := newScheduler(cfg, &countingStarter{})
	if err != nil || c != nil {
		t.Errorf("disabled schedule: scheduler=%v err=%v, want nil, nil", c, err)
	}

	cfg.ScanSchedule = "*/5 * * * *"
	c, err = newScheduler(cfg, &countingStarter{})
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}
	if n := len(c.Entries()); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}

	cfg.ScanSchedule = "not a schedule"
	if _, err := newScheduler(cfg, &countingStarter{}); err == nil {
		t.Error("invalid schedule accepted")
	}
}

func TestSchedulerJobStartsLibraryScan(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScanSchedule = "@every 1h"
	starter := &countingStarter{}

	c, err := newScheduler(cfg, starter)
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}
	c.Entries()[0].Job.Run()

	if len(starter.kinds) != 1 || starter.kinds[0] != pipeline.LibraryScan {
		t.Errorf("started kinds = %v, want [library_scan]", starter.kinds)
	}
}

func TestScanCommandOnEmptyLibrary(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a real database")
	}
	ctx := contextWith(testConfig(t), nil)

	out, err := executeCommand(t, ctx, "scan")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	if !strings.Contains(out, ": success in ") {
		t.Errorf("scan output missing success summary:\n%s", out)
	}
}

func TestScanCommandRespectsLock(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a real database")
	}
	cfg := testConfig(t)
	release := make(chan struct{})
	blocking := pipeline.NewStage(pipeline.StageDiscovery, "Blocking", func(ctx context.Context, _ func(int)) error {
		<-release
		return nil
	})
	holder := pipeline.New([]pipeline.Stage{blocking}, pipeline.Options{LockPath: cfg.LockPath})
	if _, ok := holder.Start(pipeline.LibraryScan); !ok {
		t.Fatal("holder did not start")
	}
	defer func() {
		close(release)
		holder.Wait(context.Background())
	}()

	_, err := executeCommand(t, contextWith(cfg, nil), "scan")
	if !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}
}
