package config

import (
	"flag"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

// Format is a requested export output format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatPostgres Format = "postgres"
)

type ChatConfig struct {
	Name string `toml:"name"`
	ID   string `toml:"id"`
	// Export optionally points to a Telegram Desktop JSON chat export
	// backing this target for offline runs.
	Export string `toml:"export"`
}

type TranslationConfig struct {
	Enabled bool   `toml:"enabled"`
	Source  string `toml:"source"`
	Target  string `toml:"target"`
	ApiUrl  string `toml:"api_url"`
}

type ExportConfig struct {
	Formats []Format `toml:"formats"`
	Append  bool     `toml:"append"`
}

type Config struct {
	DataDir     string             `toml:"data_dir"`
	Chats       []*ChatConfig      `toml:"chat"`
	Translation *TranslationConfig `toml:"translation"`
	Export      *ExportConfig      `toml:"export"`

	ApiID       string
	ApiHash     string
	PhoneNumber string
	DatabaseUrl string

	// Raw window bounds from the command line; resolved by timeframe.
	StartDate string
	EndDate   string
}

func (c *Config) getenv(name string) string {
	return os.Getenv(name)
}

// FileFormats returns the configured formats that produce file artifacts.
func (c *ExportConfig) FileFormats() []Format {
	formats := make([]Format, 0, len(c.Formats))
	for _, f := range c.Formats {
		if f == FormatCSV || f == FormatJSON {
			formats = append(formats, f)
		}
	}
	return formats
}

func (c *ExportConfig) HasFormat(format Format) bool {
	return slices.Contains(c.Formats, format)
}

func (c *Config) Load() {
	// load config.toml
	file, err := os.ReadFile("config/config.toml")
	if err != nil {
		log.Fatalf("Error reading config.toml: %v", err)
		return
	}
	if err := toml.Unmarshal(file, c); err != nil {
		log.Fatalf("Error decoding TOML: %s", err)
		return
	}

	// parse command line flags
	flagStart := flag.String(
		"start", "",
		"Start date of the extraction window (YYYY-MM-DD, empty for today)",
	)
	flagEnd := flag.String(
		"end", "",
		"End date of the extraction window (YYYY-MM-DD, empty for now)",
	)
	flag.Parse()
	c.StartDate = *flagStart
	c.EndDate = *flagEnd

	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Translation == nil {
		c.Translation = &TranslationConfig{}
	}
	if c.Translation.Source == "" {
		c.Translation.Source = "auto"
	}
	if c.Translation.Target == "" {
		c.Translation.Target = "en"
	}
	if c.Translation.Enabled && c.Translation.ApiUrl == "" {
		log.Fatalf("Translation is enabled but no api_url is configured")
	}
	if c.Export == nil || len(c.Export.Formats) == 0 {
		c.Export = &ExportConfig{Formats: []Format{FormatCSV}, Append: true}
	}
	for _, format := range c.Export.Formats {
		if format != FormatCSV && format != FormatJSON && format != FormatPostgres {
			log.Fatalf("Unknown export format %q", format)
		}
	}
	if len(c.Chats) == 0 {
		log.Fatalf("No chats configured")
	}
	for _, chat := range c.Chats {
		if chat.Name == "" || chat.ID == "" {
			log.Fatalf("Chat config requires both name and id: %+v", chat)
		}
	}
	log.Infof("Loaded config: %+v", c)

	// load .env
	err = godotenv.Load()
	if err != nil {
		log.Warnf("[Expected in docker] Error loading .env file: %v", err)
	}
	c.ApiID = c.getenv("API_ID")
	c.ApiHash = c.getenv("API_HASH")
	c.PhoneNumber = c.getenv("PHONE_NUMBER")
	c.DatabaseUrl = c.getenv("DATABASE_URL")
	if c.Export.HasFormat(FormatPostgres) && c.DatabaseUrl == "" {
		log.Fatalf("Export format postgres requires DATABASE_URL")
	}
}
