// Package registry maintains the NF instances known to this AMF and answers
// discovery and selection queries over them.
package registry

import (
	"time"

	"github.com/your-org/5gc-core/nf/amf/internal/config"
)

// NFType represents the type of Network Function
type NFType string

const (
	NFTypeAMF  NFType = "AMF"
	NFTypeSMF  NFType = "SMF"
	NFTypeUPF  NFType = "UPF"
	NFTypeAUSF NFType = "AUSF"
	NFTypeUDM  NFType = "UDM"
	NFTypeUDR  NFType = "UDR"
	NFTypePCF  NFType = "PCF"
	NFTypeNRF  NFType = "NRF"
	NFTypeNSSF NFType = "NSSF"
	NFTypeNEF  NFType = "NEF"
)

// NFStatus represents the status of a Network Function
type NFStatus string

const (
	NFStatusRegistered     NFStatus = "REGISTERED"
	NFStatusSuspended      NFStatus = "SUSPENDED"
	NFStatusUndiscoverable NFStatus = "UNDISCOVERABLE"
	NFStatusDeregistered   NFStatus = "DEREGISTERED"
)

// NFService represents a service provided by an NF
type NFService struct {
	ServiceName string   `json:"serviceName"`
	Versions    []string `json:"versions"`
	Scheme      string   `json:"scheme"`
	Address     string   `json:"address"`
	APIPrefix   string   `json:"apiPrefix,omitempty"`
}

// NFInstance represents a Network Function profile known to this AMF.
type NFInstance struct {
	InstanceID string   `json:"nfInstanceId"`
	NFType     NFType   `json:"nfType"`
	Status     NFStatus `json:"nfStatus"`

	PLMNID        string          `json:"plmnId,omitempty"`
	SNSSAIs       []config.SNSSAI `json:"sNssais,omitempty"`
	TAIList       []string        `json:"taiList,omitempty"`
	FQDN          string          `json:"fqdn,omitempty"`
	IPv4Addresses []string        `json:"ipv4Addresses,omitempty"`
	IPv6Addresses []string        `json:"ipv6Addresses,omitempty"`

	Priority int `json:"priority,omitempty"` // higher is preferred
	Capacity int `json:"capacity,omitempty"`
	Load     int `json:"load,omitempty"` // 0-100

	Services []NFService `json:"nfServices,omitempty"`

	// SMF-specific constraints used by session selection
	DNNs []string `json:"dnnList,omitempty"`

	RegisteredAt  time.Time `json:"registeredAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// IsValid checks the minimum fields required for registration.
func (nf *NFInstance) IsValid() bool {
	return nf.InstanceID != "" && nf.NFType != "" && nf.Status != ""
}

// HasService reports whether the instance exposes the named service.
func (nf *NFInstance) HasService(name string) bool {
	for _, svc := range nf.Services {
		if svc.ServiceName == name {
			return true
		}
	}
	return false
}

// SupportsSlice reports whether the instance serves the given S-NSSAI. An
// instance with no declared slices serves all of them.
func (nf *NFInstance) SupportsSlice(snssai config.SNSSAI) bool {
	if len(nf.SNSSAIs) == 0 {
		return true
	}
	for _, s := range nf.SNSSAIs {
		if s.SST == snssai.SST && s.SD == snssai.SD {
			return true
		}
	}
	return false
}

// SupportsDNN reports whether the instance serves the given DNN. An instance
// with no declared DNNs serves all of them.
func (nf *NFInstance) SupportsDNN(dnn string) bool {
	if len(nf.DNNs) == 0 {
		return true
	}
	for _, d := range nf.DNNs {
		if d == dnn {
			return true
		}
	}
	return false
}

// clone returns a shallow copy so discovery results are stable snapshots.
func (nf *NFInstance) clone() *NFInstance {
	cp := *nf
	return &cp
}
