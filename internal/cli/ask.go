package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/transport/http/handler"
	"github.com/mazi76erX2/vault-sub000/internal/usecase"
)

var (
	askQuery       string
	askTopK        int
	askJSON        bool
	askAccessLevel int
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from the indexed documents",
	Long: `Retrieve the most relevant passages, optionally rerank them, and
generate an answer grounded in those passages with numbered sources.

Examples:
  vault ask -q "how long do refunds take"
  vault ask -q "who approves salary changes" --access-level 5 --json`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askQuery, "query", "q", "", "question (required)")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "number of passages used as context (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.Flags().IntVar(&askAccessLevel, "access-level", 0, "highest access level visible to the caller")
	askCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, GetConfig(), GetRootDir(), true)
	if err != nil {
		return err
	}
	defer app.Close()

	ans, err := app.Answer.Answer(ctx, usecase.AnswerRequest{
		RequestID: uuid.NewString(),
		Query:     askQuery,
		TopK:      askTopK,
		Filter:    domain.AccessFilter{MaxAccessLevel: askAccessLevel},
	})
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	if askJSON {
		output, _ := json.MarshalIndent(handler.NewQueryResponse(ans), "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(ans.Text)
	if ans.Status != domain.StatusOK {
		fmt.Printf("\n(status: %s)\n", ans.Status)
	}
	if len(ans.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range ans.Sources {
			fmt.Printf("  [%d] %s (%s) score: %.4f\n", s.Index, s.Title, s.Source, s.Score)
		}
	}

	p := ans.Performance
	fmt.Printf("\nembedding %.0fms, search %.0fms", p.EmbeddingMS, p.SearchMS)
	if p.RerankMS != nil {
		fmt.Printf(", rerank %.0fms", *p.RerankMS)
	}
	if p.GenerationMS != nil {
		fmt.Printf(", generation %.0fms", *p.GenerationMS)
	}
	fmt.Printf(", total %.0fms\n", p.TotalMS)
	return nil
}
