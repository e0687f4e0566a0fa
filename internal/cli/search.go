package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

var (
	searchQuery       string
	searchTopK        int
	searchJSON        bool
	searchAccessLevel int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Show the passages hybrid retrieval returns for a query",
	Long: `Run dense and lexical retrieval, fuse the two rankings and print the
top passages without generating an answer.

Examples:
  vault search -q "refund window"
  vault search -q "shipping times" --top-k 10 --json`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.Flags().IntVar(&searchAccessLevel, "access-level", 0, "highest access level visible to the caller")
	searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)
}

type searchHit struct {
	Rank       int                `json:"rank"`
	ChunkID    string             `json:"chunk_id"`
	Title      string             `json:"title"`
	Source     string             `json:"source"`
	FusedScore float64            `json:"fused_score"`
	LegRanks   map[domain.Leg]int `json:"leg_ranks"`
	Content    string             `json:"content"`
}

type searchOutput struct {
	Query    string      `json:"query"`
	Degraded bool        `json:"degraded"`
	Results  []searchHit `json:"results"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, GetConfig(), GetRootDir(), false)
	if err != nil {
		return err
	}
	defer app.Close()

	filter := domain.AccessFilter{MaxAccessLevel: searchAccessLevel}
	ret, err := app.Engine.Search(ctx, searchQuery, filter, searchTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := searchOutput{Query: searchQuery, Degraded: ret.Degraded, Results: make([]searchHit, len(ret.Candidates))}
	for i, c := range ret.Candidates {
		out.Results[i] = searchHit{
			Rank:       i + 1,
			ChunkID:    c.Chunk.ID,
			Title:      c.Chunk.Title(),
			Source:     c.Chunk.Source(),
			FusedScore: c.FusedScore,
			LegRanks:   c.LegRanks,
			Content:    c.Chunk.Content,
		}
	}

	if searchJSON {
		output, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(out.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results for: %s\n", len(out.Results), searchQuery)
	if ret.Degraded {
		fmt.Println("(degraded: one retrieval leg failed)")
	}
	fmt.Println()
	for _, r := range out.Results {
		fmt.Printf("--- [%d] %s (%s) score: %.4f %s ---\n", r.Rank, r.Title, r.Source, r.FusedScore, formatLegRanks(r.LegRanks))
		fmt.Println(strings.TrimSpace(r.Content))
		fmt.Println()
	}
	return nil
}

func formatLegRanks(ranks map[domain.Leg]int) string {
	parts := make([]string, 0, 2)
	for _, leg := range []domain.Leg{domain.LegDense, domain.LegSparse} {
		if r, ok := ranks[leg]; ok {
			parts = append(parts, fmt.Sprintf("%s#%d", leg, r))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
