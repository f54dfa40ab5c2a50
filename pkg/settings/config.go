package settings

import (
	"log"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// consts
const (
	Name = "Inkwell"
)

// Config ...
type Config struct {
	Name         string   `ignored:"true"`
	Version      string   `ignored:"true"`
	Env          string   `envconfig:"ENV"`
	HTTPListen   string   `envconfig:"HTTP_LISTEN" default:":5001"`
	StoreDSN     string   `envconfig:"STORE_DSN" default:"redis://localhost:6379/1"`
	AuthRequired bool     `envconfig:"AUTH_REQUIRED"`
	TrustProxies []string `envconfig:"Trust_Proxies" default:"127.0.0.1,::1"`
	CookieName   string   `envconfig:"Cookie_Name" default:"inkc"`
	CookiePath   string   `envconfig:"Cookie_Path" default:"/"`
	CookieDomain string   `envconfig:"Cookie_Domain"`
	SendRate     string   `envconfig:"SEND_RATE" default:"30-M"` // 发送频率限制, 格式如 30-M

	OpenAIAPIKey  string `envconfig:"openAi_Api_Key"`
	OpenAIBaseURL string `envconfig:"openAi_Base_URL"`
	ChatModel     string `envconfig:"Chat_Model" default:"gpt-4o-mini"`
	PresetFile    string `envconfig:"preset_file"`

	// client side
	APIBase string `envconfig:"API_BASE" default:"http://localhost:5001/api"`
}

var (
	// Current 当前配置
	Current = new(Config)
)

func init() {
	if err := envconfig.Process(Name, Current); err != nil {
		log.Printf("envconfig process fail: %s", err)
	}

	Current.Name = Name
	Current.Version = version
}

// Usage 打印配置帮助
func Usage() error {
	log.Printf("ver: %s", Current.Version)
	return envconfig.Usage(Current.Name, Current)
}

// InDevelop 是否开发环境
func InDevelop() bool {
	switch strings.ToLower(Current.Env) {
	case "dev", "develop", "development":
		return true
	}
	return len(os.Getenv("INKWELL_DEBUG")) > 0
}
