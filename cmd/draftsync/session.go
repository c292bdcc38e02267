package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/activity"
	"github.com/nainya/draftsync/pkg/docstore"
	"github.com/nainya/draftsync/pkg/engine"
	"github.com/nainya/draftsync/pkg/identity"
	"github.com/nainya/draftsync/pkg/lease"
)

var leaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Inspect or take a user's writing lease",
}

var leaseShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current lease holder",
	RunE:  runLeaseShow,
}

var leaseClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Take the lease for this device, signalling a conflict on the holder",
	RunE:  runLeaseClaim,
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Work with documents through a lease-gated session",
}

var docImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a text file as a story chapter or poem body",
	RunE:  runDocImport,
}

var docShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a document's outline and statistics",
	RunE:  runDocShow,
}

var activityCmd = &cobra.Command{
	Use:   "streak",
	Short: "Print a user's writing streak in days",
	RunE:  runStreak,
}

type sessionArgs struct {
	userID     string
	documentID string
	kind       string
	title      string
	chapter    string
	file       string
}

var flags sessionArgs

func init() {
	for _, c := range []*cobra.Command{leaseShowCmd, leaseClaimCmd, docImportCmd, activityCmd} {
		c.Flags().StringVarP(&flags.userID, "user", "u", "", "user id")
		_ = c.MarkFlagRequired("user")
	}

	docImportCmd.Flags().StringVar(&flags.documentID, "id", "", "document id (new document when empty)")
	docImportCmd.Flags().StringVar(&flags.kind, "kind", string(engine.KindStory), "story or poem")
	docImportCmd.Flags().StringVarP(&flags.title, "title", "t", "", "document title (defaults to the file name)")
	docImportCmd.Flags().StringVar(&flags.chapter, "chapter", "Chapter 1", "chapter title for stories")
	docImportCmd.Flags().StringVarP(&flags.file, "file", "f", "", "text file to import")
	_ = docImportCmd.MarkFlagRequired("file")

	docShowCmd.Flags().StringVar(&flags.documentID, "id", "", "document id")
	_ = docShowCmd.MarkFlagRequired("id")

	leaseCmd.AddCommand(leaseShowCmd, leaseClaimCmd)
	docCmd.AddCommand(docImportCmd, docShowCmd)
	rootCmd.AddCommand(leaseCmd, docCmd, activityCmd)
}

func newCoordinator(store docstore.Store, m *metrics.Metrics) *lease.Coordinator {
	return lease.New(store, lease.Options{
		DeviceClass:       cfg.DeviceClass,
		UserAgent:         "draftsync-cli/" + Version,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            log,
		Metrics:           m,
	})
}

func newEngine(store docstore.Store, gate engine.Gate, userID string, m *metrics.Metrics) *engine.Engine {
	return engine.New(store, gate, identity.NewStatic(userID), engine.Options{
		TextDebounce:  cfg.TextDebounce,
		MetaDebounce:  cfg.MetaDebounce,
		MaxPartSize:   cfg.MaxPartSize,
		ReadingWPM:    cfg.ReadingWPM,
		MaxCharacters: cfg.MaxCharacters,
		Activity:      activity.NewRecorder(store, m, nil),
		Logger:        log,
		Metrics:       m,
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runLeaseShow(cmd *cobra.Command, _ []string) error {
	m := metrics.NewMetrics()
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	var rec lease.Record
	err = docstore.GetJSON(cmd.Context(), store, docstore.LeaseKey(flags.userID), &rec)
	if err != nil {
		return fmt.Errorf("read lease for %s: %w", flags.userID, err)
	}
	return printJSON(rec)
}

func runLeaseClaim(cmd *cobra.Command, _ []string) error {
	m := metrics.NewMetrics()
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	coord := newCoordinator(store, m)
	defer coord.Stop()

	sessionID, err := coord.Start(cmd.Context(), flags.userID)
	if err != nil {
		return err
	}
	fmt.Printf("lease held by session %s (%s)\n", sessionID, cfg.DeviceClass)
	return nil
}

func runDocImport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	text, err := os.ReadFile(flags.file)
	if err != nil {
		return fmt.Errorf("read %s: %w", flags.file, err)
	}
	title := flags.title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(flags.file), filepath.Ext(flags.file))
	}

	m := metrics.NewMetrics()
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	coord := newCoordinator(store, m)
	defer coord.Stop()
	if _, err := coord.Start(ctx, flags.userID); err != nil {
		return err
	}

	e := newEngine(store, coord, flags.userID, m)
	defer e.Close()

	doc, err := e.Open(ctx, flags.documentID, engine.Kind(flags.kind))
	if err != nil {
		return err
	}
	if err := e.SetTitle(title); err != nil {
		return err
	}

	if doc.Kind == engine.KindPoem {
		err = e.SetBody(string(text))
	} else {
		err = importChapter(e, string(text))
	}
	if err != nil {
		return err
	}

	if err := e.FlushAll(ctx); err != nil {
		return err
	}

	doc, _ = e.Document()
	fmt.Printf("%s %s: %d words, %d min read\n", doc.Kind, doc.ID, doc.WordCount, doc.ReadingTime)
	return nil
}

// importChapter appends the text as a new chapter of the last act
func importChapter(e *engine.Engine, text string) error {
	acts := e.Acts()
	var act engine.Act
	if len(acts) == 0 {
		var err error
		if act, err = e.AddAct("Act I"); err != nil {
			return err
		}
	} else {
		act = acts[len(acts)-1]
	}

	ch, err := e.AddChapter(act.ID, flags.chapter)
	if err != nil {
		return err
	}
	return e.SetChapterText(ch.ID, text)
}

type outlineChapter struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Words int    `json:"words"`
	State string `json:"state"`
}

type outlineAct struct {
	Title    string           `json:"title"`
	Chapters []outlineChapter `json:"chapters"`
}

type outline struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Title       string            `json:"title"`
	WordCount   int               `json:"wordCount"`
	ReadingTime int               `json:"readingTime"`
	Characters  []string          `json:"characters,omitempty"`
	Acts        []outlineAct      `json:"acts,omitempty"`
	Poem        *engine.PoemStats `json:"poem,omitempty"`
}

func runDocShow(cmd *cobra.Command, _ []string) error {
	m := metrics.NewMetrics()
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	// read-only session: every write is refused
	readOnly := engine.GateFunc(func(context.Context) (bool, error) { return false, nil })
	e := newEngine(store, readOnly, "", m)
	defer e.Close()

	doc, err := e.Open(cmd.Context(), flags.documentID, engine.KindStory)
	if err != nil {
		return err
	}

	out := outline{
		ID:          doc.ID,
		Kind:        string(doc.Kind),
		Title:       doc.Title,
		WordCount:   doc.WordCount,
		ReadingTime: doc.ReadingTime,
	}
	if doc.Kind == engine.KindPoem {
		stats := e.PoemStats()
		out.Poem = &stats
		return printJSON(out)
	}

	for _, c := range e.Characters() {
		out.Characters = append(out.Characters, c.Name)
	}
	for _, act := range e.Acts() {
		oa := outlineAct{Title: act.Title}
		for _, ch := range e.ChaptersForAct(act.ID) {
			content, _ := e.ChapterContent(ch.ID)
			oa.Chapters = append(oa.Chapters, outlineChapter{
				ID:    ch.ID,
				Title: ch.Title,
				Words: content.WordCount,
				State: string(content.State),
			})
		}
		out.Acts = append(out.Acts, oa)
	}
	return printJSON(out)
}

func runStreak(cmd *cobra.Command, _ []string) error {
	m := metrics.NewMetrics()
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	days, err := activity.NewRecorder(store, m, nil).Streak(cmd.Context(), flags.userID)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d day streak\n", flags.userID, days)
	return nil
}
