package daemon

import (
	"errors"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"

	"github.com/homgar/bridge/pkg/homgar"
)

// Settings is the daemon configuration, from file or HOMGAR_* environment.
type Settings struct {
	Email          string
	Password       string
	AreaCode       string
	APIURL         string
	PushProductKey string
	Database       string
}

// LoadConfig reads homgard.yaml (or the file named by path) and the
// environment into viper.
func LoadConfig(log logr.Logger, path string) error {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("homgard")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/homgar")
		viper.AddConfigPath("$HOME/.config/homgar")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("HOMGAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("area_code", homgar.DefaultAreaCode)
	viper.SetDefault("api_url", homgar.DefaultBaseURL)
	viper.SetDefault("database", "homgar.db")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		log.Info("No configuration file found, using environment only")
	} else {
		log.Info("Loaded configuration", "file", viper.ConfigFileUsed())
	}
	return nil
}

// CurrentSettings snapshots the viper state into a Settings value.
func CurrentSettings() (Settings, error) {
	s := Settings{
		Email:          viper.GetString("email"),
		Password:       viper.GetString("password"),
		AreaCode:       viper.GetString("area_code"),
		APIURL:         viper.GetString("api_url"),
		PushProductKey: viper.GetString("push_product_key"),
		Database:       viper.GetString("database"),
	}
	if s.Email == "" || s.Password == "" {
		return s, errors.New("email and password are required (configuration file or HOMGAR_EMAIL/HOMGAR_PASSWORD)")
	}
	return s, nil
}
