package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerpeak/advisorkb/internal/embedder"
	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/logging"
	"github.com/ledgerpeak/advisorkb/internal/retrieve"
)

// NewQueryCmd constructs the `advisorkb query` command, a one-shot scoped
// similarity search printed to stdout. Useful for verifying what a given
// caller would retrieve without going through chat.
func NewQueryCmd() *cobra.Command {
	var tenantID string
	var customerID string
	var packIDs []string
	var limit int

	cmd := &cobra.Command{
		Use:   "query TEXT",
		Short: "Run a one-shot scoped retrieval against the knowledge base",
		Long: `Embed the query text and print the chunks visible to the given caller.

The visibility filter mirrors the chat API: tenant knowledge for --tenant,
customer context for --customer, and specialist pack content for each
--pack. With no scope flags at all the result is always empty.

Examples:
  advisorkb query --tenant acme "notice period for senior staff"
  advisorkb query --tenant acme --customer cust-17 --pack uk-payroll-2026 "overtime rules"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("query: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("query: failed to initialise embedder: %w", err)
			}

			docs, err := openDocumentStore(log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer func() { _ = docs.Close() }()

			index, closeIndex, err := openVectorIndex(ctx, log, docs)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer closeIndex()

			retriever, err := retrieve.New(emb, index)
			if err != nil {
				return fmt.Errorf("query: failed to create retriever: %w", err)
			}

			hits, err := retriever.Search(ctx, retrieve.Query{
				Text: args[0],
				Filter: knowledge.SearchFilter{
					TenantID:   tenantID,
					CustomerID: customerID,
					PackIDs:    packIDs,
				},
				Limit: limit,
			})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			if len(hits) == 0 {
				fmt.Println("no results")
				return nil
			}

			for i, h := range hits {
				cite := h.Cite()
				fmt.Printf("%d. %s (%s, distance %.4f)\n", i+1, cite.Title, cite.Scope, h.Distance)
				fmt.Printf("   %s\n", strings.ReplaceAll(cite.TextPreview, "\n", " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant identifier for the TENANT clause")
	cmd.Flags().StringVarP(&customerID, "customer", "c", "", "Customer identifier for the CUSTOMER clause")
	cmd.Flags().StringArrayVar(&packIDs, "pack", nil, "Specialist pack identifier (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", retrieve.DefaultLimit, "Maximum number of results")

	return cmd
}
