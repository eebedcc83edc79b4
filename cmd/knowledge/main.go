// Command knowledge loads passages into the knowledge index and runs ad hoc
// searches against it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/greanly/cmd/mainconfig"
	"github.com/wolfman30/greanly/internal/app/bootstrap"
	appconfig "github.com/wolfman30/greanly/internal/config"
	"github.com/wolfman30/greanly/internal/retrieval"
	"github.com/wolfman30/greanly/pkg/logging"
)

var (
	namespaceFlag  string
	topKFlag       int
	bucketKeysFlag bool
)

// env is what the subcommands need once configuration is loaded.
type env struct {
	index    retrieval.Index
	ingester bootstrap.Ingester
	s3       objectGetter
	cfg      *appconfig.Config
	cleanup  func()
}

type envLoader func(ctx context.Context) (*env, error)

func main() {
	if err := newRootCmd(loadEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(load envLoader) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "knowledge",
		Short:         "Manage the Greanly knowledge index",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&namespaceFlag, "namespace", "n", "", "knowledge namespace (defaults to KNOWLEDGE_NAMESPACE)")

	ingestCmd := &cobra.Command{
		Use:   "ingest [manifest.yaml | s3://bucket/key]...",
		Short: "Append the passages listed in YAML manifests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer e.cleanup()
			return runIngest(cmd.Context(), cmd.OutOrStdout(), e, args)
		},
	}
	ingestCmd.Flags().BoolVar(&bucketKeysFlag, "bucket-keys", false, "treat arguments as object keys in KNOWLEDGE_S3_BUCKET")

	queryCmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Search the index and print scored passages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer e.cleanup()
			return runQuery(cmd.Context(), cmd.OutOrStdout(), e, strings.Join(args, " "), topKFlag)
		},
	}
	queryCmd.Flags().IntVarP(&topKFlag, "top", "k", 3, "number of passages to return")

	rootCmd.AddCommand(ingestCmd, queryCmd)
	return rootCmd
}

func runIngest(ctx context.Context, out io.Writer, e *env, sources []string) error {
	if e.ingester == nil {
		return fmt.Errorf("retrieval backend %q does not accept ingestion", e.cfg.RetrievalBackend)
	}
	total := 0
	for _, src := range sources {
		if bucketKeysFlag {
			if e.cfg.KnowledgeS3Bucket == "" {
				return fmt.Errorf("--bucket-keys needs KNOWLEDGE_S3_BUCKET")
			}
			src = "s3://" + e.cfg.KnowledgeS3Bucket + "/" + strings.TrimPrefix(src, "/")
		}
		m, err := loadManifest(ctx, src, e.s3)
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		namespace := firstNonEmpty(namespaceFlag, m.Namespace, e.cfg.KnowledgeNamespace)
		if err := e.ingester.Ingest(ctx, namespace, m.Documents); err != nil {
			return fmt.Errorf("%s: ingest: %w", src, err)
		}
		fmt.Fprintf(out, "%s: %d passage(s) -> %s\n", src, len(m.Documents), namespace)
		total += len(m.Documents)
	}
	fmt.Fprintf(out, "ingested %d passage(s)\n", total)
	return nil
}

func runQuery(ctx context.Context, out io.Writer, e *env, query string, topK int) error {
	candidates, err := e.index.Search(ctx, query, topK)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(candidates) == 0 {
		fmt.Fprintln(out, "no matches")
		return nil
	}
	for i, c := range candidates {
		branch := "general"
		if c.Score >= e.cfg.AdmissionThreshold {
			branch = "grounded"
		}
		fmt.Fprintf(out, "%d. [%.3f %s] %s\n", i+1, c.Score, branch, c.Content)
	}
	return nil
}

func loadEnv(ctx context.Context) (*env, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if namespaceFlag != "" {
		cfg.KnowledgeNamespace = namespaceFlag
	}
	logger := logging.New(cfg.LogLevel)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	cleanup := func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if pool != nil {
			pool.Close()
		}
	}

	index, ingester, err := bootstrap.BuildIndex(ctx, cfg, awsCfg, redisClient, pool, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &env{
		index:    index,
		ingester: ingester,
		s3:       mainconfig.NewKnowledgeS3Client(awsCfg, cfg),
		cfg:      cfg,
		cleanup:  cleanup,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
