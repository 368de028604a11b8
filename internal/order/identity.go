package order

import (
	"fmt"
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// instancePrefix identifies this engine installation inside every intent
// key, so orders from two installations sharing an account never collide.
func instancePrefix() string {
	id, err := machineid.ProtectedID("strategy-engine")
	if err != nil {
		host, herr := os.Hostname()
		if herr != nil || host == "" {
			host = uuid.NewString()
		}
		id = host
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// newIntentKey mints a globally unique client order id. The venue treats
// repeated submissions of the same key as one order, which is what makes
// retrying after a timeout safe.
func newIntentKey(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
