package secrets

import (
	"errors"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// fallbackFile lazily loads a dotenv file the first time a secret misses Secret Manager.
type fallbackFile struct {
	path   string
	logger *zap.Logger

	once   sync.Once
	values map[string]string
}

func (f *fallbackFile) get(ref Reference) (string, bool) {
	f.once.Do(f.load)
	value, ok := f.values[ref.envKey()]
	return value, ok
}

func (f *fallbackFile) load() {
	if f.path == "" {
		return
	}
	values, err := godotenv.Read(f.path)
	if err == nil {
		f.values = values
		return
	}
	if !errors.Is(err, os.ErrNotExist) {
		f.logger.Warn("secrets fallback file unreadable", zap.String("path", f.path), zap.Error(err))
	}
}
