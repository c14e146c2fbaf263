// Package autoload registers every built-in chat channel.
package autoload

import (
	_ "gptbridge/pkg/channels/telegram"
	_ "gptbridge/pkg/channels/web"
)
