package models

import (
	_ "github.com/qwenrun/qwenrun/model/models/qwen3"
)
