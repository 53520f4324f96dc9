// Package certs provisions the TLS certificate beacon serves.
//
// There are two keystore slots under the certificate directory:
//
//   - self_signed.p12: generated by GenerateSelfSigned (RSA-2048, one year,
//     CN and SAN bound to the hostname), protected by a password that is
//     generated once and kept in the settings store.
//   - custom.p12: an imported PKCS12 file with its externally supplied
//     password.
//
// Both are written atomically. The active certificate changes only after a
// keystore has been fully decoded; a failed import leaves it untouched.
//
// Reloader watches the directory with fsnotify and reloads the active slot
// when another process (for example `beacon cert import`) rewrites it.
package certs
