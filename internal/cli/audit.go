package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"votechain.mini/vcm/internal/api"
	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/polls"
	"votechain.mini/vcm/internal/store"
)

var (
	exportOut  string
	tallyPoll  string
	maxBackups int
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "re-check every hash link, proof, index and timestamp in the stored chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, backend, blocks, work, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		if len(blocks) == 0 {
			pterm.Warning.Println("The store holds no blocks yet.")
			return nil
		}

		started := time.Now()
		if err := ledger.NewScanner(blocks, work).Verify(); err != nil {
			var chainErr *ledger.ChainError
			if errors.As(err, &chainErr) {
				pterm.Error.Printfln("Block %d failed verification: %s", chainErr.Index, chainErr.Reason)
			} else {
				pterm.Error.Println(err.Error())
			}
			return err
		}
		pterm.Success.Printfln("%d block(s) verified at difficulty %d in %s", len(blocks), work.Difficulty(), time.Since(started).Round(time.Millisecond))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "write the stored chain as a JSON array",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, backend, blocks, _, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOut, err)
			}
			defer f.Close()
			w = f
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(blocks); err != nil {
			return fmt.Errorf("encode chain: %w", err)
		}
		if exportOut != "" && exportOut != "-" {
			pterm.Success.Printfln("Exported %d block(s) to %s", len(blocks), exportOut)
		}
		return nil
	},
}

var tallyCmd = &cobra.Command{
	Use:   "tally",
	Short: "count a poll's votes with a full chain scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tallyPoll == "" {
			return cmd.Usage()
		}
		_, backend, blocks, work, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		reg, err := polls.NewRegistry(cmd.Context(), backend, nil)
		if err != nil {
			return err
		}
		p, err := reg.Get(tallyPoll)
		if err != nil {
			return fmt.Errorf("poll %s: %w", tallyPoll, err)
		}

		counts, total := ledger.NewScanner(blocks, work).Tally(p.ID, p.Options)

		data := pterm.TableData{{"Option", "Votes"}}
		for _, opt := range p.Options {
			data = append(data, []string{opt, strconv.Itoa(counts[opt])})
		}
		pterm.DefaultSection.Println(p.Question)
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
		state := "open"
		if !p.Active {
			state = "closed"
		}
		pterm.Info.Printfln("%d vote(s) counted, poll is %s", total, state)
		return nil
	},
}

var pollsCmd = &cobra.Command{
	Use:   "polls",
	Short: "list stored polls",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, backend, _, _, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		reg, err := polls.NewRegistry(cmd.Context(), backend, nil)
		if err != nil {
			return err
		}
		list := reg.List()
		if len(list) == 0 {
			pterm.Info.Println("No polls yet.")
			return nil
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].Active && !list[j].Active })

		data := pterm.TableData{{"ID", "Question", "Options", "Voters", "State", "Created"}}
		for _, p := range list {
			state := pterm.LightGreen("open")
			if !p.Active {
				state = pterm.Gray("closed")
			}
			data = append(data, []string{
				p.ID,
				p.Question,
				strconv.Itoa(len(p.Options)),
				strconv.Itoa(len(p.EligibleVoters)),
				state,
				p.CreatedAt.Format(time.RFC3339),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "write a timestamped copy of the SQLite database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		b, ok := backend.(api.Backupper)
		if !ok {
			return fmt.Errorf("the %s store does not support backups", cfg.StoreBackend)
		}
		if maxBackups <= 0 {
			maxBackups = cfg.MaxBackups
		}
		path, err := b.BackupCurrent(maxBackups)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Backup written to %s", path)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "replace an unreadable SQLite database with its newest backup",
	Long: `restore moves the current SQLite database (and its -wal and -shm files)
aside as <name>.corrupt-<stamp> and copies the newest file from backups/ into
its place. Votes sealed after that backup are not in the restored chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.StoreBackend != store.BackendSQLite {
			return fmt.Errorf("the %s store does not support restore", cfg.StoreBackend)
		}
		path := cfg.StorePath
		if path == "" {
			path = store.DefaultPath(store.BackendSQLite, cfg.DataDir)
		}

		restored, aside, err := store.RestoreLatestBackup(path)
		if aside != "" {
			pterm.Info.Printfln("Previous database kept at %s", aside)
		}
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Restored %s from %s", path, restored)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd, exportCmd, tallyCmd, pollsCmd, backupCmd, restoreCmd)

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	tallyCmd.Flags().StringVarP(&tallyPoll, "poll", "p", "", "poll ID to tally")
	backupCmd.Flags().IntVar(&maxBackups, "keep", 0, "backups to keep (default max_backups)")
}
