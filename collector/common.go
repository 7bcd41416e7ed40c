package collector

import common "github.com/melonattacker/bmon/collector/common"

const (
	BackendKernel   = common.BackendKernel
	BackendEmulated = common.BackendEmulated
)

var (
	ErrLinuxOnly      = common.ErrLinuxOnly
	ErrUnknownBackend = common.ErrUnknownBackend
)

type Config = common.Config
type Stats = common.Stats
type Backend = common.Backend
