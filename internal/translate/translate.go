// Package translate replaces transcript text with a target-language
// rendering while keeping every timestamp.
//
// Translation is deterministic per (text, source, target): the first answer
// the Backend gives is memoized in a Cache and reused from then on. Texts are
// deduplicated and sent to the backend in batches.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"overdub/internal/language"
	"overdub/internal/logging"
	"overdub/internal/services"
	"overdub/internal/transcript"
)

// ErrUnsupportedLanguagePair reports a source/target combination that cannot
// be translated.
var ErrUnsupportedLanguagePair = errors.New("unsupported language pair")

const defaultBatchSize = 20

// Backend translates batches of texts. Results must be in input order and of
// equal length.
type Backend interface {
	Supports(source, target string) bool
	TranslateBatch(ctx context.Context, texts []string, source, target string) ([]string, error)
}

// Options tunes a Translator.
type Options struct {
	BatchSize int
	Logger    *slog.Logger
}

// Translator coordinates cache lookups and backend batches.
type Translator struct {
	backend   Backend
	cache     Cache
	batchSize int
	logger    *slog.Logger
}

// New constructs a Translator. A nil cache selects an in-memory cache.
func New(backend Backend, cache Cache, opts Options) *Translator {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Translator{
		backend:   backend,
		cache:     cache,
		batchSize: opts.BatchSize,
		logger:    logging.NewComponentLogger(logger, "translator"),
	}
}

// Close releases the cache.
func (t *Translator) Close() error {
	return t.cache.Close()
}

// Translate returns a transcript with identical timing whose texts are in
// target. A transcript already in target is returned as a copy.
func (t *Translator) Translate(ctx context.Context, tr transcript.Transcript, target string) (transcript.Transcript, error) {
	source, err := language.Normalize(tr.Language())
	if err != nil {
		return transcript.Transcript{}, unsupported(tr.Language(), target, err)
	}
	target, err = language.Normalize(target)
	if err != nil {
		return transcript.Transcript{}, unsupported(source, target, err)
	}
	if source == target {
		return transcript.New(target, tr.Segments()), nil
	}
	if t.backend == nil || !t.backend.Supports(source, target) {
		return transcript.Transcript{}, unsupported(source, target, nil)
	}

	logger := logging.WithContext(ctx, t.logger)
	segments := tr.Segments()
	resolved := make(map[string]string, len(segments))
	var pending []string
	seen := make(map[string]bool, len(segments))
	for _, seg := range segments {
		if seen[seg.Text] {
			continue
		}
		seen[seg.Text] = true
		value, ok, err := t.cache.Get(ctx, Key{Text: seg.Text, Source: source, Target: target})
		if err != nil {
			logging.WarnWithContext(logger, "translation cache lookup failed", "translation_cache_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check translation.cache_path permissions"),
				logging.String(logging.FieldImpact, "text will be translated again"),
			)
		}
		if ok {
			resolved[seg.Text] = value
			continue
		}
		pending = append(pending, seg.Text)
	}

	logger.Info("translation started",
		logging.String(logging.FieldEventType, "translation_started"),
		logging.String("source", source),
		logging.String("target", target),
		logging.Int("segments", len(segments)),
		logging.Int("cached", len(resolved)),
		logging.Int("pending", len(pending)),
	)

	for start := 0; start < len(pending); start += t.batchSize {
		if err := ctx.Err(); err != nil {
			return transcript.Transcript{}, services.Wrap(services.ErrCancelled, "translate", "batch", "", err)
		}
		end := min(start+t.batchSize, len(pending))
		batch := pending[start:end]
		out, err := t.backend.TranslateBatch(ctx, batch, source, target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return transcript.Transcript{}, services.Wrap(services.ErrCancelled, "translate", "batch", "", ctxErr)
			}
			if errors.Is(err, ErrUnsupportedLanguagePair) {
				return transcript.Transcript{}, unsupported(source, target, err)
			}
			return transcript.Transcript{}, services.Wrap(services.ErrModel, "translate", "batch",
				fmt.Sprintf("texts %d-%d", start, end-1), err)
		}
		if len(out) != len(batch) {
			return transcript.Transcript{}, services.Wrap(services.ErrModel, "translate", "batch",
				fmt.Sprintf("backend returned %d texts for %d inputs", len(out), len(batch)), nil)
		}
		for i, text := range batch {
			resolved[text] = t.store(ctx, logger, Key{Text: text, Source: source, Target: target}, out[i])
		}
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = resolved[seg.Text]
	}
	logger.Info("translation completed",
		logging.String(logging.FieldEventType, "translation_completed"),
		logging.Int("segments", len(segments)),
	)
	return tr.WithTexts(target, texts), nil
}

// store caches value and returns the cached translation. The first stored
// value wins, so a run that lost a race adopts the earlier answer.
func (t *Translator) store(ctx context.Context, logger *slog.Logger, key Key, value string) string {
	if err := t.cache.Put(ctx, key, value); err != nil {
		logging.WarnWithContext(logger, "translation cache store failed", "translation_cache_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check translation.cache_path permissions"),
			logging.String(logging.FieldImpact, "later runs may translate this text differently"),
		)
		return value
	}
	cached, ok, err := t.cache.Get(ctx, key)
	if err != nil || !ok {
		return value
	}
	return cached
}

func unsupported(source, target string, cause error) error {
	msg := fmt.Sprintf("%s -> %s", source, target)
	if cause != nil {
		return services.Wrap(services.ErrInput, "translate", "language", msg, errors.Join(ErrUnsupportedLanguagePair, cause))
	}
	return services.Wrap(services.ErrInput, "translate", "language", msg, ErrUnsupportedLanguagePair)
}
