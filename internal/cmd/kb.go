package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gatekeep-io/gatekeep/internal/retrieval"
	"github.com/gatekeep-io/gatekeep/internal/store"
)

var (
	kbProject int64
	kbUser    string
	kbFile    string
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base",
}

var kbIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest documents from a JSONL file",
	Long: `Reads one JSON document per line and ingests each into the project
knowledge base. Fields: title and text are required; doc_id, tags,
trust_level ("trusted" or "untrusted") and source are optional. Re-ingesting
a doc_id replaces its chunks.`,
	RunE: kbIngest,
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents for a project",
	RunE:  kbList,
}

func init() {
	kbCmd.PersistentFlags().Int64Var(&kbProject, "project", 1, "project ID")
	kbIngestCmd.Flags().StringVar(&kbUser, "user", "", "owning username (required)")
	kbIngestCmd.Flags().StringVarP(&kbFile, "file", "f", "", "JSONL file to ingest (required)")
	_ = kbIngestCmd.MarkFlagRequired("user")
	_ = kbIngestCmd.MarkFlagRequired("file")

	kbCmd.AddCommand(kbIngestCmd)
	kbCmd.AddCommand(kbListCmd)
	rootCmd.AddCommand(kbCmd)
}

// kbLine is one JSONL record in an ingest file.
type kbLine struct {
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	Tags       string `json:"tags"`
	TrustLevel string `json:"trust_level"`
	Source     string `json:"source"`
	Text       string `json:"text"`
}

func kbIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(kbFile)
	if err != nil {
		return fmt.Errorf("opening %s: %w", kbFile, err)
	}
	defer f.Close()

	docs, chunks, err := ingestJSONL(ctx, st.store, f, kbProject, kbUser)
	if err != nil {
		return err
	}
	log.Info().Int("docs", docs).Int("chunks", chunks).Int64("project", kbProject).Msg("kb ingest complete")
	fmt.Printf("Ingested %d document(s), %d chunk(s) into project %d.\n", docs, chunks, kbProject)
	return nil
}

// ingestJSONL reads JSONL records from r and stores each as a document.
// It stops at the first malformed or invalid line, reporting its number.
func ingestJSONL(ctx context.Context, s *store.Store, r io.Reader, projectID int64, owner string) (docs, chunks int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line kbLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return docs, chunks, fmt.Errorf("line %d: invalid JSON: %w", lineNo, err)
		}
		if line.Title == "" || line.Text == "" {
			return docs, chunks, fmt.Errorf("line %d: title and text are required", lineNo)
		}
		switch line.TrustLevel {
		case "":
			line.TrustLevel = retrieval.TrustUntrusted
		case retrieval.TrustTrusted, retrieval.TrustUntrusted:
		default:
			return docs, chunks, fmt.Errorf("line %d: trust_level must be %q or %q", lineNo, retrieval.TrustTrusted, retrieval.TrustUntrusted)
		}
		if line.DocID == "" {
			line.DocID = uuid.NewString()
		}
		if line.Source == "" {
			line.Source = "cli"
		}

		parts := retrieval.ChunkText(line.Text, retrieval.DefaultChunkSize, retrieval.DefaultChunkOverlap)
		doc := store.KBDoc{
			DocID:      line.DocID,
			ProjectID:  projectID,
			Title:      line.Title,
			Tags:       line.Tags,
			TrustLevel: line.TrustLevel,
			Source:     line.Source,
			Owner:      owner,
		}
		if err := s.UpsertKBDoc(ctx, doc, parts); err != nil {
			return docs, chunks, fmt.Errorf("line %d: storing document: %w", lineNo, err)
		}
		docs++
		chunks += len(parts)
	}
	if err := scanner.Err(); err != nil {
		return docs, chunks, fmt.Errorf("reading input: %w", err)
	}
	return docs, chunks, nil
}

func kbList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	docs, err := st.store.ListKBDocs(ctx, kbProject)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents found.")
		return nil
	}
	renderKBList(os.Stdout, docs)
	return nil
}

// renderKBList writes document lines to w (testable).
func renderKBList(w io.Writer, docs []store.KBDoc) {
	fmt.Fprintf(w, "Documents (showing %d):\n\n", len(docs))
	for i := range docs {
		d := &docs[i]
		fmt.Fprintf(w, "  %s | %s | %s | %s | owner=%s\n",
			d.DocID, d.Title, d.TrustLevel, d.Source, d.Owner)
	}
}
