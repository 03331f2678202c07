// Package discovery announces tinyhttps servers over multicast DNS and finds
// them again.
//
// A server registers itself as "_https._tcp" (or "_http._tcp" without TLS)
// with a TXT record tagged "server=tinyhttps" plus its version and
// WebSocket path. Scanner browses both service types and keeps only tagged
// entries unless Scanner.All is set.
//
// # Usage Example
//
//	ad, err := discovery.Advertise(discovery.Advertisement{
//	    Instance: "kitchen-panel",
//	    Port:     8443,
//	    Secure:   true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer ad.Shutdown()
//
//	services, err := discovery.NewScanner().Browse(ctx)
//
// # Network Requirements
//
//   - Multicast support on the network interface
//   - Peers on the same network segment
//   - UDP port 5353 open
package discovery
