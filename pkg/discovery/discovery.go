package discovery

// Discovery abstracts how gossip seed addresses are provided to a node
// joining the storage cluster. Static lists, DNS records and seed files are
// provided as implementations under this package.
type Discovery interface {
    Seeds() []string
}
