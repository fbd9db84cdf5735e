package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/msto63/wake/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [dialog-id]",
	Short: "Zeigt gespeicherte Gesprächsverläufe",
	Long: `Ohne Argument werden die zuletzt aktiven Dialoge aufgelistet.
Mit Dialog-ID werden alle Runden dieses Dialogs ausgegeben.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximale Anzahl Dialoge")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("Config ungültig", err)
		return err
	}
	st, err := store.Open(store.Config{Path: cfg.Store.Path})
	if err != nil {
		printError("Transcript-Store nicht verfügbar", err)
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if len(args) == 1 {
		turns, err := st.Turns(ctx, args[0])
		if err != nil {
			printError("Dialog nicht gefunden", err)
			return err
		}
		for _, t := range turns {
			fmt.Printf("[%s]\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("  Du:  %s\n", t.User)
			fmt.Printf("  KI:  %s\n\n", t.Assistant)
		}
		return nil
	}

	sessions, err := st.Sessions(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("Keine gespeicherten Dialoge.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRUNDEN\tZULETZT")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.ID, s.Turns, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
