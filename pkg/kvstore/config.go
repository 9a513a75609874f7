// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package kvstore

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/cilium/vbridge/pkg/defaults"
)

const (
	// KVStore is the flag selecting the backend
	KVStore = "kvstore"

	// KVStoreOpt is the flag carrying backend options
	KVStoreOpt = "kvstore-opt"
)

type Config struct {
	KVStore    string
	KVStoreOpt map[string]string
}

var defaultConfig = Config{
	KVStore:    defaults.KVStoreBackend,
	KVStoreOpt: map[string]string{},
}

func (def Config) Flags(flags *pflag.FlagSet) {
	flags.String(KVStore, def.KVStore, "Key-value store type: memory, etcd or empty to disable persistence")

	flags.StringToString(KVStoreOpt, def.KVStoreOpt,
		"Key-value store options e.g. etcd.address=127.0.0.1:4001")
}

// validateOpts iterates through all of the keys in kvStoreOpts, and errors out
// if the key in kvStoreOpts is not a supported key in supportedOpts.
func validateOpts(kvStore string, kvStoreOpts map[string]string, supportedOpts map[string]bool) error {
	for k := range kvStoreOpts {
		if !supportedOpts[k] {
			return fmt.Errorf("provided configuration value %q is not supported as a key-value store option for kvstore %s", k, kvStore)
		}
	}
	return nil
}

func (cfg Config) Validate() error {
	switch cfg.KVStore {
	case DisabledBackendName:
		return nil
	case InMemoryBackendName:
		return validateOpts(cfg.KVStore, cfg.KVStoreOpt, map[string]bool{})
	case EtcdBackendName:
		if err := validateOpts(cfg.KVStore, cfg.KVStoreOpt, etcdOpts); err != nil {
			return err
		}
		if cfg.KVStoreOpt[EtcdAddrOption] == "" {
			return fmt.Errorf("kvstore %s requires --%s %s=<address>", cfg.KVStore, KVStoreOpt, EtcdAddrOption)
		}
		return nil
	default:
		return fmt.Errorf("unsupported key-value store %q provided", cfg.KVStore)
	}
}
