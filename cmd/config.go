package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// PluginDefaults holds operator-pinned defaults for flags this plugin's
// commands otherwise require on every invocation, read once at startup so a
// host deployment doesn't have to repeat `mode=`/`tag=` on every launch.
type PluginDefaults struct {
	BlockMode string `mapstructure:"block_mode"`
	NinePTag  string `mapstructure:"ninep_tag"`
}

// loadPluginDefaults reads config from $VIRTIO_PLUGIN_CONFIG, ./virtio-plugin.yaml,
// or /etc/hype/virtio-plugin.yaml, in that order. A config file missing from
// the search paths is not an error; the returned defaults are then
// block_mode "rw" and ninep_tag "/dev/root".
func loadPluginDefaults() (PluginDefaults, error) {
	v := viper.New()
	v.SetConfigName("virtio-plugin")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/hype")

	if p := os.Getenv("VIRTIO_PLUGIN_CONFIG"); p != "" {
		v.SetConfigFile(p)
	}

	v.SetDefault("block_mode", "rw")
	v.SetDefault("ninep_tag", "/dev/root")

	v.SetEnvPrefix("VIRTIO_PLUGIN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return PluginDefaults{}, fmt.Errorf("read plugin config: %w", err)
		}
	}

	var d PluginDefaults
	if err := v.Unmarshal(&d); err != nil {
		return PluginDefaults{}, fmt.Errorf("unmarshal plugin config: %w", err)
	}

	return d, nil
}
