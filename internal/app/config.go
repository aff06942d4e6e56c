package app

import (
	"time"

	"github.com/coreagent/platform/internal/memory/longterm"
	"github.com/coreagent/platform/internal/memory/perceptual"
	"github.com/coreagent/platform/internal/memory/retrieval"
	"github.com/coreagent/platform/internal/memory/shortterm"
	"github.com/coreagent/platform/internal/permission"
	"github.com/coreagent/platform/internal/platform/envutil"
	"github.com/coreagent/platform/internal/platform/logger"
	"github.com/coreagent/platform/internal/reply"
)

// Config is the process-wide configuration loaded from the
// environment at startup, grouped the way spec.md §6 groups its
// config surface: [scheduler], [three_tier_memory], [permission],
// [dependency_management], plus the connection settings the teacher's
// own config.go reads the same way (POSTGRES_*, LOG_MODE, PORT).
type Config struct {
	LogMode string
	Port    string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string

	// [three_tier_memory]
	MemoryEnabled    bool
	Perceptual       perceptual.Config
	ShortTerm        shortterm.Config
	LongTerm         longterm.Config
	Retrieval        retrieval.Config
	TransferInterval time.Duration

	// [permission]
	MasterUsers []permission.User

	// [dependency_management]
	AutoInstall        bool
	AutoInstallTimeout time.Duration
	UseProxy           bool
	ProxyURL           string
	AllowedAutoInstall []string

	// [reply]
	Reply reply.Config

	PluginManifestDir string
}

// LoadConfig reads every setting from the environment, falling back to
// spec.md's stated defaults. Scheduler tick cadence is deliberately
// absent here: spec.md §6 fixes it at one second, not user-tunable.
func LoadConfig(log *logger.Logger) Config {
	return Config{
		LogMode: envutil.String("LOG_MODE", "development"),
		Port:    envutil.String("PORT", "8080"),

		PostgresHost:     envutil.String("POSTGRES_HOST", "localhost"),
		PostgresPort:     envutil.String("POSTGRES_PORT", "5432"),
		PostgresUser:     envutil.String("POSTGRES_USER", "postgres"),
		PostgresPassword: envutil.String("POSTGRES_PASSWORD", ""),
		PostgresName:     envutil.String("POSTGRES_NAME", "coreagent"),

		MemoryEnabled: envutil.Bool("MEMORY_ENABLE", true),
		Perceptual: perceptual.Config{
			MaxBlocks:           envutil.Int("MEMORY_PERCEPTUAL_MAX_BLOCKS", perceptual.DefaultMaxBlocks),
			BlockSize:           envutil.Int("MEMORY_PERCEPTUAL_BLOCK_SIZE", perceptual.DefaultBlockSize),
			ActivationThreshold: envutil.Int("MEMORY_ACTIVATION_THRESHOLD", perceptual.DefaultActivationThreshold),
			RecallTopK:          envutil.Int("MEMORY_PERCEPTUAL_TOPK", perceptual.DefaultRecallTopK),
			RecallThreshold:     envutil.Float("MEMORY_PERCEPTUAL_SIMILARITY_THRESHOLD", perceptual.DefaultRecallThreshold),
			EmbeddingModel:      envutil.String("MEMORY_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		ShortTerm: shortterm.Config{
			Capacity:           envutil.Int("MEMORY_SHORT_TERM_MAX_MEMORIES", shortterm.DefaultCapacity),
			PromotionThreshold: envutil.Float("MEMORY_SHORT_TERM_TRANSFER_THRESHOLD", shortterm.DefaultPromotionThreshold),
			DecayFactor:        envutil.Float("MEMORY_SHORT_TERM_DECAY_FACTOR", shortterm.DefaultDecayFactor),
			BatchSize:          envutil.Int("MEMORY_LONG_TERM_BATCH_SIZE", shortterm.DefaultBatchSize),
			TransferInterval:   envutil.Duration("MEMORY_LONG_TERM_AUTO_TRANSFER_INTERVAL", shortterm.DefaultTransferInterval),
			DecisionModel:      envutil.String("MEMORY_JUDGE_MODEL_NAME", "gpt-4o-mini"),
			ExtractionModel:    envutil.String("MEMORY_EXTRACTION_MODEL", "gpt-4o-mini"),
			EmbeddingModel:     envutil.String("MEMORY_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		LongTerm: longterm.Config{
			DecayFactor:        envutil.Float("MEMORY_LONG_TERM_DECAY_FACTOR", longterm.DefaultDecayFactor),
			ConsolidationModel: envutil.String("MEMORY_JUDGE_MODEL_NAME", "gpt-4o-mini"),
			RelationModel:      envutil.String("MEMORY_RELATION_MODEL", "gpt-4o-mini"),
			EmbeddingModel:     envutil.String("MEMORY_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Retrieval: retrieval.Config{
			DisableJudge: !envutil.Bool("MEMORY_ENABLE_JUDGE_RETRIEVAL", true),
			JudgeModel:   envutil.String("MEMORY_JUDGE_MODEL_NAME", "gpt-4o-mini"),
		},
		TransferInterval: envutil.Duration("MEMORY_LONG_TERM_AUTO_TRANSFER_INTERVAL", shortterm.DefaultTransferInterval),

		MasterUsers: permission.ParseMasterUsers(envutil.String("PERMISSION_MASTER_USERS", ""), log),

		AutoInstall:        envutil.Bool("DEPENDENCY_AUTO_INSTALL", false),
		AutoInstallTimeout: envutil.Duration("DEPENDENCY_AUTO_INSTALL_TIMEOUT", 30*time.Second),
		UseProxy:           envutil.Bool("DEPENDENCY_USE_PROXY", false),
		ProxyURL:           envutil.String("DEPENDENCY_PROXY_URL", ""),
		AllowedAutoInstall: envutil.StringSlice("DEPENDENCY_ALLOWED_AUTO_INSTALL", nil),

		Reply: reply.Config{
			ChatModel:            envutil.String("REPLY_CHAT_MODEL", "gpt-4o-mini"),
			JudgeModel:           envutil.String("MEMORY_JUDGE_MODEL_NAME", "gpt-4o-mini"),
			ReplyThreshold:       envutil.Float("REPLY_THRESHOLD", 0),
			ActionThreshold:      envutil.Float("REPLY_ACTION_THRESHOLD", 0),
			EnergyBoostOnReply:   envutil.Float("REPLY_ENERGY_BOOST", 0),
			EnergyDecayPerTurn:   envutil.Float("REPLY_ENERGY_DECAY", 0),
			MaxContextCandidates: envutil.Int("REPLY_MAX_CONTEXT_CANDIDATES", 0),
		},

		PluginManifestDir: envutil.String("PLUGIN_MANIFEST_DIR", "./plugins"),
	}
}
