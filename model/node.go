package model

import (
	"fmt"
	"strings"
	"time"
)

// Node is a provisioned relay server.
type Node struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IP          string `json:"ip"`
	Domain      string `json:"domain"`
	CountryCode string `json:"countryCode"`
	IsActive    bool   `json:"isActive"`
	SNIDomain   string `json:"sniDomain"`
	Port        int    `json:"port"`

	// EncryptedPassword holds the root credential sealed at rest.
	// Never serialized and never logged.
	EncryptedPassword string `json:"-"`

	ClusterID *int64    `json:"clusterId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Cluster is a redundancy pairing of up to two nodes.
type Cluster struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	NodeAID *int64 `json:"nodeAId,omitempty"`
	NodeBID *int64 `json:"nodeBId,omitempty"`
}

// UnknownCountry and UnknownCity are the sentinels used when
// geolocation is unavailable.
const (
	UnknownCountry = "UN"
	UnknownCity    = "UNK"
)

// CityCode truncates a city name to its three-letter upper-cased code.
func CityCode(city string) string {
	if city == "" {
		return UnknownCity
	}
	r := []rune(city)
	if len(r) > 3 {
		r = r[:3]
	}
	return strings.ToUpper(string(r))
}

// NodeName derives the fleet-unique node name from the resolved
// location and the per-country sequence number.
func NodeName(countryCode, cityCode string, seq int) string {
	return fmt.Sprintf("%s-%s-%02d", countryCode, cityCode, seq)
}

// NodeDomain derives the public subdomain for a node.
func NodeDomain(countryCode string, seq int, domainRoot string) string {
	return fmt.Sprintf("%s-%02d.%s", strings.ToLower(countryCode), seq, domainRoot)
}
