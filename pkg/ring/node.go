package ring

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Node describes a ring member as it travels on the wire.
type Node struct {
	ID          int    `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Address     string `json:"address"`
	Port        int    `json:"port"`

	// Unreachable tags the sentinel returned when a peer could not be queried.
	Unreachable bool `json:"unreachable,omitempty"`
}

// Unreachable stands in for a node that did not answer.
var Unreachable = Node{
	ID:          -1,
	Fingerprint: "N/A",
	Address:     "0.0.0.0",
	Port:        0,
	Unreachable: true,
}

// NewNode builds a descriptor and derives its fingerprint from address:port.
func NewNode(id int, address string, port int) Node {
	return Node{
		ID:          id,
		Fingerprint: Fingerprint(address, port),
		Address:     address,
		Port:        port,
	}
}

// IsZero reports whether n is the absent descriptor.
func (n Node) IsZero() bool {
	return n == (Node{})
}

// IsNull reports whether n is absent or the unreachable sentinel. Neither can
// be contacted.
func (n Node) IsNull() bool {
	return n.Unreachable || n.Address == ""
}

// Same is full structural equality.
func (n Node) Same(other Node) bool {
	return n == other
}

// HostPort returns the UDP address of the node.
func (n Node) HostPort() string {
	return net.JoinHostPort(n.Address, strconv.Itoa(n.Port))
}

func (n Node) String() string {
	if n.Unreachable {
		return "unreachable"
	}
	return fmt.Sprintf("%d[%s]@%s", n.ID, n.Fingerprint, n.HostPort())
}

// ParseNode reads an operator reference of the form "id@address:port". The
// fingerprint is derived from the address.
func ParseNode(ref string) (Node, error) {
	idPart, hostPort, ok := strings.Cut(ref, "@")
	if !ok {
		return Node{}, fmt.Errorf("node reference %q is not id@address:port", ref)
	}
	id, err := strconv.Atoi(idPart)
	if err != nil || id < 0 || id >= Size {
		return Node{}, fmt.Errorf("node reference %q has invalid id", ref)
	}
	host, portPart, err := net.SplitHostPort(hostPort)
	if err != nil {
		return Node{}, fmt.Errorf("node reference %q: %w", ref, err)
	}
	port, err := strconv.Atoi(portPart)
	if err != nil || port <= 0 || port > 65535 {
		return Node{}, fmt.Errorf("node reference %q has invalid port", ref)
	}
	return NewNode(id, host, port), nil
}

// Fingerprint is the short display hash of address:port.
func Fingerprint(address string, port int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d", address, port)))
	return strings.ToUpper(hex.EncodeToString(sum[:])[10:16])
}

// HashID places an arbitrary key on the ring.
func HashID(key string) int {
	return int(murmur3.Sum64([]byte(key)) % Size)
}
