package config

import (
	"os"
	"reflect"
	"strconv"

	"github.com/joho/godotenv"
	l "github.com/rs/zerolog/log"
)

func Setup() {
	LoadVars()
	setupLogger()
}

type SupportStringconv interface {
	~int | ~int64 | ~float32 | ~string | ~bool
}

func conv(v string, to reflect.Kind) any {
	var err error

	if to == reflect.String {
		return v
	}

	if to == reflect.Bool {
		if bool, err := strconv.ParseBool(v); err == nil {
			return bool
		}
	}

	if to == reflect.Int {
		if int, err := strconv.Atoi(v); err == nil {
			return int
		}
	}

	if to == reflect.Int64 {
		if i64, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i64
		}
	}

	if to == reflect.Float32 {
		if f32, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f32)
		}
	}

	l.Panic().
		Err(err).
		Str("context", "config").
		Str("value", v).
		Msg("unsupported conversion")
	return nil
}

func Env[T SupportStringconv](key string, def T) T {
	if v, ok := os.LookupEnv(key); ok {
		val := conv(v, reflect.TypeOf(def).Kind()).(T)
		l.Debug().
			Str("context", "config").
			Msgf("=> [%s]: %v", key, val)
		return val
	}
	return def
}

var (
	// Chat (IRC) endpoint
	ChatHost         string
	ChatPort         string
	ChatAccessToken  string
	KeepaliveSeconds int

	// Helix
	HelixAPIUrl      string
	HelixValidateUrl string
	ChattersPageSize int

	// Host loop
	TickMilliseconds  int
	ViewerPollSeconds int

	APIPort string

	Debug bool
)

func LoadVars() {
	l := l.With().
		Str("context", "config").
		Logger()

	// a missing .env file is not fatal
	if err := godotenv.Load(); err != nil {
		l.Debug().
			Err(err).
			Msg("no .env file loaded")
	}

	l.Info().Msg("reading environment variables")

	ChatHost = Env("CHAT_HOST", "irc.chat.twitch.tv")
	ChatPort = Env("CHAT_PORT", "6667")
	ChatAccessToken = Env("CHAT_ACCESS_TOKEN", "")
	KeepaliveSeconds = Env("KEEPALIVE_SECONDS", 60)

	HelixAPIUrl = Env("HELIX_API_URL", "https://api.twitch.tv/helix")
	HelixValidateUrl = Env("HELIX_VALIDATE_URL", "")
	ChattersPageSize = Env("CHATTERS_PAGE_SIZE", 0)

	TickMilliseconds = Env("TICK_MILLISECONDS", 16)
	ViewerPollSeconds = Env("VIEWER_POLL_SECONDS", 60)

	APIPort = Env("API_PORT", "9530")

	Debug = Env("DEBUG", false)
}
