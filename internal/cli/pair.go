package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/sync/conflict"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Manage sync pairs",
	Long:  "A sync pair binds one local folder to one Drive folder",
}

var pairAddCmd = &cobra.Command{
	Use:   "add <local-path> <drive-folder>",
	Short: "Create a sync pair",
	Long: `Create a sync pair between a local directory and a Drive folder.

The Drive folder may be given as a folder ID, a Drive URL, "root" or a
slash separated path from My Drive.`,
	Args: cobra.ExactArgs(2),
	RunE: runPairAdd,
}

var pairListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync pairs",
	RunE:  runPairList,
}

var pairRemoveCmd = &cobra.Command{
	Use:   "remove <pair-id>",
	Short: "Remove a sync pair and its tracking records",
	Long:  "Remove a sync pair. Files on both sides are left untouched.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPairRemove,
}

var (
	pairID       string
	pairStrategy string
	pairMode     string
	pairExclude  []string
	pairCreate   bool
)

func init() {
	pairAddCmd.Flags().StringVar(&pairID, "id", "", "Pair ID (generated when empty)")
	pairAddCmd.Flags().StringVar(&pairStrategy, "strategy", "", "Conflict strategy for this pair (keep_local, keep_remote, keep_newest, keep_both, ask_user)")
	pairAddCmd.Flags().StringVar(&pairMode, "mode", "", "Sync mode for this pair (push, pull, bidirectional)")
	pairAddCmd.Flags().StringSliceVar(&pairExclude, "exclude", nil, "Exclude patterns for this pair")
	pairAddCmd.Flags().BoolVar(&pairCreate, "create", false, "Create missing Drive folders in a path")

	pairCmd.AddCommand(pairAddCmd)
	pairCmd.AddCommand(pairListCmd)
	pairCmd.AddCommand(pairRemoveCmd)
	rootCmd.AddCommand(pairCmd)
}

func runPairAdd(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	ctx := context.Background()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	localRoot, err := filepath.Abs(args[0])
	if err != nil {
		return out.WriteError("pair.add", utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
	}
	info, err := localfs.NewOS().Stat(localRoot)
	if err != nil || !info.IsDir() {
		return out.WriteError("pair.add", utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("Local path must be an existing directory: %s", localRoot)).Build())
	}

	if pairStrategy != "" {
		s, err := conflict.ParseStrategy(pairStrategy)
		if err != nil {
			return out.WriteError("pair.add", utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
		}
		pairStrategy = string(s)
	}
	if pairMode != "" {
		if _, err := parseMode(pairMode); err != nil {
			return out.writeAppError("pair.add", err)
		}
	}

	s, err := openSession()
	if err != nil {
		return out.writeAppError("pair.add", err)
	}
	defer s.Close()

	existing, err := s.db.ListPairs(ctx)
	if err != nil {
		return out.writeAppError("pair.add", err)
	}
	for _, p := range existing {
		if overlaps(p.LocalRoot, localRoot) {
			return out.WriteError("pair.add", utils.NewCLIError(utils.ErrCodeInvalidPath,
				fmt.Sprintf("Local path overlaps sync pair %s (%s)", p.ID, p.LocalRoot)).
				WithContext("pairId", p.ID).Build())
		}
	}

	if err := s.connect(ctx, engineOverrides{}); err != nil {
		return out.writeAppError("pair.add", err)
	}
	folder, err := s.store.ResolveFolder(ctx, args[1], pairCreate)
	if err != nil {
		return out.writeAppError("pair.add", err)
	}

	remotePath := args[1]
	if !strings.Contains(remotePath, "/") || strings.HasPrefix(remotePath, "http") {
		remotePath = folder.Name
	}
	id := pairID
	if id == "" {
		id = uuid.New().String()
	}
	pair := index.Pair{
		ID:             id,
		LocalRoot:      localRoot,
		RemoteRootID:   folder.ID,
		RemoteRootPath: remotePath,
		Strategy:       pairStrategy,
		Mode:           pairMode,
		Exclude:        pairExclude,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.db.UpsertPair(ctx, pair); err != nil {
		return out.writeAppError("pair.add", err)
	}

	out.Log("Created sync pair %s: %s <-> %s", pair.ID, pair.LocalRoot, remotePath)
	return out.WriteSuccess("pair.add", newPairView(pair))
}

func runPairList(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	s, err := openSession()
	if err != nil {
		return out.writeAppError("pair.list", err)
	}
	defer s.Close()

	pairs, err := s.db.ListPairs(context.Background())
	if err != nil {
		return out.writeAppError("pair.list", err)
	}
	views := make([]pairView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, newPairView(p))
	}
	return out.WriteSuccess("pair.list", pairsOutput{Pairs: views})
}

func runPairRemove(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	ctx := context.Background()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	s, err := openSession()
	if err != nil {
		return out.writeAppError("pair.remove", err)
	}
	defer s.Close()

	if _, err := s.pair(ctx, args[0]); err != nil {
		return out.writeAppError("pair.remove", err)
	}
	if err := s.db.DeletePair(ctx, args[0]); err != nil {
		return out.writeAppError("pair.remove", err)
	}

	out.Log("Removed sync pair %s", args[0])
	return out.WriteSuccess("pair.remove", map[string]interface{}{
		"pairId": args[0],
	})
}

// overlaps reports whether one root contains the other.
func overlaps(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if a == b {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(a+sep, b+sep) || strings.HasPrefix(b+sep, a+sep)
}
