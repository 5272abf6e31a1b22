// Command workbench runs a smoke flow over the full data layer: load (or
// create) a workspace, mutate it through the command engine, sync a
// session summary, and flush it back to disk.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	osfs "github.com/hack-pad/hackpadfs/os"
	"go.uber.org/zap"

	"github.com/kittclouds/workbench/internal/archive"
	"github.com/kittclouds/workbench/internal/command"
	"github.com/kittclouds/workbench/internal/persist"
	"github.com/kittclouds/workbench/internal/reconcile"
	"github.com/kittclouds/workbench/internal/store"
)

func main() {
	dir := flag.String("dir", ".workbench", "workspace storage directory")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	fsys := osfs.NewFS()
	workDir, err := fsys.FromOSPath(*dir)
	if err != nil {
		log.Fatalf("resolve dir: %v", err)
	}

	s := store.NewStore()

	hist, err := archive.NewSQLiteArchive(*dir + "/history.db")
	if err != nil {
		log.Fatalf("archive: %v", err)
	}
	defer hist.Close()
	s.SetArchive(hist)

	engine, err := persist.NewEngine(fsys, workDir, s, 500*time.Millisecond, logger)
	if err != nil {
		log.Fatalf("persist: %v", err)
	}
	if err := engine.Load(); err != nil {
		log.Fatalf("load: %v", err)
	}
	defer engine.Close()

	cmd := command.NewEngine(s, hist, logger)

	// Provision a Tasks board on first run.
	tasks := s.DatabaseByName("Tasks")
	if tasks == nil {
		tasks = &store.Database{
			Name: "Tasks",
			Properties: []store.PropertyDefinition{
				{ID: "status", Name: "Status", Type: store.PropertyStatus, Options: []store.SelectOption{
					{ID: "todo", Name: "Todo"}, {ID: "done", Name: "Done"},
				}},
			},
		}
		if err := s.AddDatabase(tasks); err != nil {
			log.Fatalf("add database: %v", err)
		}
	}

	res := cmd.Execute(command.Request{
		Kind:       command.KindCreateTask,
		DatabaseID: tasks.ID,
		Title:      fmt.Sprintf("Review notes %s", time.Now().Format("2006-01-02 15:04:05")),
	})
	fmt.Println(res.Message)

	sess := &store.Session{
		Title:     "Weekly sync",
		StartedAt: time.Now().UnixMilli(),
		MarkdownSummary: "## Summary\nShipping review.\n\n## Action Items\n" +
			"- [ ] Send the release notes @Ana by friday\n" +
			"- [ ] Fix the flaky persistence test, urgent\n",
	}
	if err := s.PutSession(sess); err != nil {
		log.Fatalf("put session: %v", err)
	}

	syncer := reconcile.NewSyncer(s, logger)
	note, err := syncer.UpsertMeetingNote(sess)
	if err != nil {
		log.Fatalf("upsert meeting note: %v", err)
	}
	created, err := syncer.SyncActions(sess, note)
	if err != nil {
		log.Fatalf("sync actions: %v", err)
	}
	fmt.Printf("synced %d new action(s) for %q\n", len(created), note.Title)

	if err := engine.ForceSave(); err != nil {
		log.Fatalf("save: %v", err)
	}
	m := engine.LastFlushMetrics()
	fmt.Printf("flush ok=%v took=%.2fms p50=%.2fms p95=%.2fms\n",
		m.Success, m.DurationMs, m.P50DurationMs, m.P95DurationMs)
}
