package identity

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP

	goleak.VerifyTestMain(m,
		// geth's keystore starts a directory watcher with no Close method.
		goleak.IgnoreTopFunction("github.com/ethereum/go-ethereum/accounts/keystore.(*watcher).loop"),
		goleak.IgnoreAnyFunction("github.com/fsnotify/fsnotify.(*Watcher).readEvents"),
		goleak.IgnoreAnyFunction("github.com/fsnotify/fsnotify.(*inotify).readEvents"),
	)
}
