// Package audioutil holds small, dependency-free helpers for working with
// the gateway's base64-framed PCM16 mono audio chunks that would otherwise
// be duplicated across internal/adapter and internal/controller.
package audioutil

import "encoding/base64"

// EstimateDecodedBytes returns the byte length base64.StdEncoding.Decode
// would produce for s, without materializing the decoded bytes (spec
// 4.F.5). Used on the hot append path where only the byte count is needed.
func EstimateDecodedBytes(s string) int {
	if len(s) == 0 {
		return 0
	}
	padding := 0
	for i := len(s) - 1; i >= 0 && i >= len(s)-2; i-- {
		if s[i] == '=' {
			padding++
		} else {
			break
		}
	}
	n := (len(s)*3)/4 - padding
	if n < 0 {
		return 0
	}
	return n
}

// DecodePCM16Samples base64-decodes s and reinterprets the bytes as
// little-endian PCM16 samples (spec 6.5: PCM16 mono only). A trailing odd
// byte that can't form a full sample is dropped. Returns nil, false if s
// doesn't decode as valid base64.
func DecodePCM16Samples(s string) ([]int16, bool) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	n := len(raw) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return samples, true
}
