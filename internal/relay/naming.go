package relay

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

const randAlnumAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Name builds the relay pod/workload name
// `kftray-forward-{user}-{protocol}-{unixSecs}-{6randAlnum}`, lower-cased,
// with non-alphanumerics stripped from user.
func Name(user, protocol string, now time.Time, rng *rand.Rand) string {
	cleanUser := stripNonAlnum(user)
	suffix := randAlnum(6, rng)
	name := fmt.Sprintf("kftray-forward-%s-%s-%d-%s", cleanUser, strings.ToLower(protocol), now.Unix(), suffix)
	return strings.ToLower(name)
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func randAlnum(n int, rng *rand.Rand) string {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = randAlnumAlphabet[rng.Intn(len(randAlnumAlphabet))]
	}
	return string(b)
}
