package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"facttrace"
)

var (
	serverURL string

	claim  string
	truth  string
	caseID int
	rounds int

	batchConcurrency int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "facttrace",
		Short: "FactTrace client: watch an AI jury debate whether a claim is faithful to its source",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "FactTrace backend URL")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Stream a verification session live",
		RunE:  runVerify,
	}
	verifyCmd.Flags().StringVar(&claim, "claim", "", "claim to evaluate")
	verifyCmd.Flags().StringVar(&truth, "truth", "", "source truth to evaluate against")
	verifyCmd.Flags().IntVar(&caseID, "case", 0, "verify a catalog case by ID instead of --claim/--truth")
	verifyCmd.Flags().IntVar(&rounds, "rounds", 2, "number of advocate/skeptic debate rounds")

	casesCmd := &cobra.Command{
		Use:   "cases",
		Short: "List the claim/truth cases known to the backend",
		RunE:  runCases,
	}

	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Verify every catalog case and print one-line results",
		RunE:  runBatch,
	}
	batchCmd.Flags().IntVar(&rounds, "rounds", 1, "number of advocate/skeptic debate rounds per case")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "how many cases to verify in parallel")

	verdictCmd := &cobra.Command{
		Use:   "verdict",
		Short: "Print the latest stored verdict",
		RunE:  runVerdict,
	}

	rootCmd.AddCommand(verifyCmd, casesCmd, batchCmd, verdictCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if caseID > 0 {
		c, err := fetchCase(ctx, serverURL, caseID)
		if err != nil {
			return err
		}
		claim, truth = c.Claim, c.Truth
	}
	if claim == "" || truth == "" {
		return fmt.Errorf("either --case or both --claim and --truth are required")
	}

	consumer := facttrace.NewConsumer(serverURL)
	updates := consumer.Verify(ctx, facttrace.VerifyRequest{
		Claim:        claim,
		Truth:        truth,
		DebateRounds: rounds,
	})

	program := tea.NewProgram(newVerifyModel(updates, cancel))
	final, err := program.Run()
	if err != nil {
		return err
	}

	if m, ok := final.(verifyModel); ok && m.snapshot.Err != nil {
		return m.snapshot.Err
	}
	return nil
}

func runCases(cmd *cobra.Command, args []string) error {
	cases, err := fetchCases(cmd.Context(), serverURL)
	if err != nil {
		return err
	}

	if len(cases) == 0 {
		fmt.Println("No cases available.")
		return nil
	}
	for _, c := range cases {
		fmt.Printf("%3d  %s\n", c.ID, c.Claim)
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cases, err := fetchCases(ctx, serverURL)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		fmt.Println("No cases available.")
		return nil
	}

	verdicts := make([]*facttrace.Verdict, len(cases))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, c := range cases {
		g.Go(func() error {
			verdict, err := verifyOnce(ctx, serverURL, facttrace.VerifyRequest{
				Claim:        c.Claim,
				Truth:        c.Truth,
				DebateRounds: rounds,
			})
			if err != nil {
				return fmt.Errorf("case %d: %w", c.ID, err)
			}
			verdicts[i] = verdict
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, c := range cases {
		v := verdicts[i]
		confidence := "-"
		if v.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *v.Confidence)
		}
		fmt.Printf("%3d  %-9s  %5s  %s\n", c.ID, v.Decision, confidence, truncate(c.Claim, 70))
	}
	return nil
}

func runVerdict(cmd *cobra.Command, args []string) error {
	verdict, err := fetchVerdict(cmd.Context(), serverURL)
	if err != nil {
		return err
	}
	if verdict == nil {
		fmt.Println("No verdict available.")
		return nil
	}

	fmt.Print(facttrace.RenderVerdict(*verdict, false))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
