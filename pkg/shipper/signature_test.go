package shipper

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"orderId":"O1"}`)
	sig := SignHMAC("secret", body)

	assert.True(t, VerifyHMAC("secret", body, sig))
	assert.True(t, VerifyHMAC("secret", body, "sha256="+sig))
	assert.False(t, VerifyHMAC("other", body, sig))
	assert.False(t, VerifyHMAC("secret", []byte(`{"orderId":"O2"}`), sig))
	assert.False(t, VerifyHMAC("secret", body, "not-hex"))
	assert.False(t, VerifyHMAC("", body, SignHMAC("", body)))
	assert.False(t, VerifyHMAC("secret", body, ""))
}

func TestVerifyBasicAuth(t *testing.T) {
	h := http.Header{}
	assert.False(t, VerifyBasicAuth(h, "key", "secret"))

	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("key:secret")))
	assert.True(t, VerifyBasicAuth(h, "key", "secret"))
	assert.False(t, VerifyBasicAuth(h, "key", "wrong"))
	assert.False(t, VerifyBasicAuth(h, "", ""))

	h.Set("Authorization", "Bearer token")
	assert.False(t, VerifyBasicAuth(h, "key", "secret"))
}
