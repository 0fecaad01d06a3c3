package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/mind-engage/mindengage-quiz/internal/app"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
)

// quizd opens (seeding or migrating) the data file and the audit journal
// and prints a summary. It is a maintenance tool, not a front end.
func main() {
	reset := flag.Bool("reset", false, "discard all data and reseed the default accounts")
	events := flag.Int("events", 0, "print the last N journal events")
	flag.Parse()
	defer glog.Flush()

	cfg := config.FromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		glog.Exitf("startup failed: %v", err)
	}
	defer a.Close()

	if *reset {
		if err := a.Store.Reset(); err != nil {
			glog.Exitf("reset failed: %v", err)
		}
		glog.Warningf("data file %s reset to defaults", cfg.DataFile)
	}

	doc := a.Store.Snapshot()
	now := time.Now()
	status := map[exam.ExamStatus]int{}
	for _, e := range doc.Exams {
		status[e.Status(now)]++
	}
	fmt.Fprintf(os.Stdout, "%s: %d users, %d templates, %d exams (%d open, %d waiting, %d closed), %d attempts\n",
		cfg.DataFile, len(doc.Users), len(doc.Templates), len(doc.Exams),
		status[exam.ExamOpen], status[exam.ExamWaiting], status[exam.ExamClosed], len(doc.Attempts))

	if *events > 0 && a.Journal != nil {
		all, err := a.Journal.List(ctx, "", 0)
		if err != nil {
			glog.Exitf("read journal: %v", err)
		}
		if len(all) > *events {
			all = all[len(all)-*events:]
		}
		for _, e := range all {
			fmt.Fprintf(os.Stdout, "%s %-22s %-16s by %-14s %v\n",
				e.CreatedAt.Format(time.RFC3339), e.Type, e.Key, e.Actor, e.Data)
		}
	}
}
