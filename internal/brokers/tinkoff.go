// Package brokers filters instruments against a broker's tradable universe.
// Only the T-Bank universe is supported; the list ships as a YAML file that
// operators refresh out of band.
package brokers

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Universe maps an instrument bucket (STOCKS, BONDS, ETFS) to its tickers.
type Universe map[string]map[string]bool

var allowedBuckets = []string{"STOCKS", "BONDS", "ETFS"}

// Filter answers whether a ticker is tradable at T-Bank. With no universe
// file on disk everything is allowed; with one, membership is strict.
type Filter struct {
	log     *zap.Logger
	path    string
	enabled bool

	mu         sync.Mutex
	mtime      time.Time
	universe   Universe
	strict     bool
	loggedMiss bool
}

func NewFilter(log *zap.Logger, path string, enabled bool) *Filter {
	return &Filter{log: log, path: path, enabled: enabled}
}

// IsTradable reports whether the instrument can be bought at T-Bank. secType
// is one of "stock", "bond", "etf"; anything else (crypto, cash) is out of
// the filter's scope and passes.
func (f *Filter) IsTradable(ticker, secType string) bool {
	if !f.enabled {
		return true
	}
	symbol := normalizeSymbol(ticker)
	if symbol == "" {
		return false
	}

	bucket := bucketFor(secType)
	if bucket == "" {
		return true
	}

	universe, strict := f.load()
	if !strict {
		return true
	}
	set := universe[bucket]
	if len(set) == 0 {
		return false
	}
	return set[symbol]
}

// load returns the current universe, rereading the file when its mtime
// changed. A missing file means allow-all (strict=false).
func (f *Filter) load() (Universe, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := os.Stat(f.path)
	if err != nil {
		if !f.loggedMiss {
			f.log.Info("broker universe file not found; allowing all instruments", zap.String("path", f.path))
			f.loggedMiss = true
		}
		f.universe = emptyUniverse()
		f.strict = false
		f.mtime = time.Time{}
		return f.universe, false
	}
	f.loggedMiss = false

	if f.universe == nil || !st.ModTime().Equal(f.mtime) {
		universe, err := LoadUniverse(f.path)
		if err != nil {
			f.log.Warn("broker universe load failed", zap.String("path", f.path), zap.Error(err))
			universe = emptyUniverse()
		}
		f.universe = universe
		f.strict = true
		f.mtime = st.ModTime()
	}
	return f.universe, f.strict
}

// LoadUniverse parses a universe YAML file. Unknown top-level keys are
// ignored; bucket names and tickers are case-insensitive.
func LoadUniverse(path string) (Universe, error) {
	universe := emptyUniverse()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return universe, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}

	for rawKey, rawValues := range raw {
		key := strings.ToUpper(strings.TrimSpace(rawKey))
		bucket, ok := universe[key]
		if !ok {
			continue
		}
		values, ok := rawValues.([]any)
		if !ok {
			values = []any{rawValues}
		}
		for _, item := range values {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if symbol := normalizeSymbol(s); symbol != "" {
				bucket[symbol] = true
			}
		}
	}
	return universe, nil
}

func emptyUniverse() Universe {
	u := Universe{}
	for _, key := range allowedBuckets {
		u[key] = map[string]bool{}
	}
	return u
}

// normalizeSymbol uppercases and strips ISIN suffixes ("SBER;RU0009029540").
func normalizeSymbol(value string) string {
	symbol := strings.ToUpper(strings.TrimSpace(value))
	if i := strings.Index(symbol, ";"); i >= 0 {
		symbol = strings.TrimSpace(symbol[:i])
	}
	return symbol
}

func bucketFor(secType string) string {
	switch strings.ToLower(secType) {
	case "stock":
		return "STOCKS"
	case "bond":
		return "BONDS"
	case "etf":
		return "ETFS"
	}
	return ""
}
