// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/daemon"
)

func runSegmentsCLI(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("segments", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	work := fs.String("work", "", "only segments of this work ID")
	state := fs.String("state", "", "only segments in this upload state")
	limit := fs.Int("limit", 0, "maximum rows (0 = all)")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	filter := catalog.ListFilter{WorkID: *work, State: catalog.UploadState(*state), Limit: *limit}
	if filter.State != "" && !filter.State.Valid() {
		_, _ = fmt.Fprintf(os.Stderr, "unknown state %q\n", *state)
		return 2
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
	store, err := daemon.OpenStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := listSegments(context.Background(), store, filter, *asJSON, stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func listSegments(ctx context.Context, store catalog.Store, filter catalog.ListFilter, asJSON bool, out io.Writer) error {
	segs, err := store.List(ctx, filter)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if segs == nil {
			segs = []*catalog.Segment{}
		}
		return enc.Encode(segs)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TOKEN\tWORK\tINDEX\tRECORDED\tDURATION\tSIZE\tSTATE\tACKED\tRETRIES")
	for _, s := range segs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.Token,
			orDash(s.WorkID),
			optInt(s.Index),
			s.RecordedAt.Local().Format(time.DateTime),
			optDuration(s.DurationMs),
			optInt64(s.SizeBytes),
			s.UploadState,
			s.BytesAcked,
			s.RetryCount,
		)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

func optInt64(p *int64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatInt(*p, 10)
}

func optDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
