package settings

// set by -ldflags "-X github.com/liut/inkwell/pkg/settings.version=..."
var version = "dev"
