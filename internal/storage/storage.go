package storage

import (
	"os"
	"path/filepath"
)

// AppStorage resolves and owns the application's on-disk directories.
type AppStorage struct {
	configPath string
	dbPath     string
	logPath    string
}

func NewAppStorage(appName string) (*AppStorage, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	baseDir = filepath.Join(baseDir, appName)

	s := &AppStorage{
		configPath: filepath.Join(baseDir, "config"),
		dbPath:     filepath.Join(baseDir, "db"),
		logPath:    filepath.Join(baseDir, "logs"),
	}

	for _, dir := range []string{s.configPath, s.dbPath, s.logPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *AppStorage) ConfigPath() string {
	return s.configPath
}

func (s *AppStorage) DBPath() string {
	return s.dbPath
}

func (s *AppStorage) LogPath() string {
	return s.logPath
}
