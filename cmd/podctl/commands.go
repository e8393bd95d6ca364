package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"podcast-assembler/internal/models"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep over uploaded sources",
	RunE:  runSweep,
}

var sweepJSON bool

func init() {
	sweepCmd.Flags().BoolVar(&sweepJSON, "json", false, "print stats as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status [episode-id]",
	Short: "Show an episode's state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var retryCmd = &cobra.Command{
	Use:   "retry [episode-id]",
	Short: "Move a failed episode back to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

var assembleCmd = &cobra.Command{
	Use:   "assemble [episode-id]",
	Short: "Assemble an episode in this process, bypassing the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssemble,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [episode-id]",
	Short: "Print the playback and cover URLs an episode resolves to",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var createCmd = &cobra.Command{
	Use:   "create [owner-id] [source-name]",
	Short: "Register an uploaded source and a pending episode built from it",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreate,
}

var (
	createTitle    string
	createCategory string
)

func init() {
	createCmd.Flags().StringVar(&createTitle, "title", "", "episode title")
	createCmd.Flags().StringVar(&createCategory, "category", "recording", "source category")
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	owner, name := args[0], args[1]
	ok, err := a.Resolver.SourceExists(cmd.Context(), name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("source %s has not been uploaded", name)
	}
	src, err := a.Store.CreateSource(cmd.Context(), models.UploadedSource{OwnerID: owner, Name: name, Category: createCategory})
	if err != nil {
		return err
	}
	ep, err := a.Store.CreateEpisode(cmd.Context(), models.Episode{OwnerID: owner, Title: createTitle, WorkingAudioName: &src.Name})
	if err != nil {
		return err
	}
	fmt.Println(renderPairs([2]string{"Field", "Value"}, [][2]string{
		{"Source", src.ID},
		{"Episode", ep.ID},
		{"Status", string(ep.Status)},
	}, false))
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Sweeper.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	if sweepJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Println(renderPairs([2]string{"Outcome", "Sources"}, [][2]string{
		{"checked", strconv.Itoa(stats.Checked)},
		{"removed", strconv.Itoa(stats.Removed)},
		{"skipped_in_use", strconv.Itoa(stats.SkippedInUse)},
		{"skipped_too_young", strconv.Itoa(stats.SkippedTooYoung)},
		{"failed", strconv.Itoa(stats.Failed)},
	}, true))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ep, err := a.Machine.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	rows := [][2]string{
		{"ID", ep.ID},
		{"Owner", ep.OwnerID},
		{"Status", string(ep.Status)},
	}
	if ep.WorkingAudioName != nil {
		rows = append(rows, [2]string{"Source", *ep.WorkingAudioName})
	}
	if ep.ErrorMessage != nil {
		rows = append(rows, [2]string{"Error", *ep.ErrorMessage})
	}
	if ep.DurationMS != nil {
		rows = append(rows, [2]string{"Duration", (time.Duration(*ep.DurationMS) * time.Millisecond).String()})
	}
	if ep.PublishAt != nil {
		rows = append(rows, [2]string{"Publish at", ep.PublishAt.Format(time.RFC3339)})
	}
	rows = append(rows, [2]string{"Updated", ep.UpdatedAt.Format(time.RFC3339)})
	fmt.Println(renderPairs([2]string{"Field", "Value"}, rows, false))
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ep, err := a.Machine.Retry(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Episode %s is %s\n", ep.ID, ep.Status)
	return nil
}

func runAssemble(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ep, err := a.Assembly.Assemble(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Episode %s is %s\n", ep.ID, ep.Status)
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ep, err := a.Machine.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	playback, err := a.Resolver.ResolvePlayback(cmd.Context(), ep)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	fmt.Printf("playback: %s\n", playback)
	if cover, err := a.Resolver.ResolveCover(cmd.Context(), ep); err == nil {
		fmt.Printf("cover:    %s\n", cover)
	}
	return nil
}
