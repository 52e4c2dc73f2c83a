package core

import (
	"fmt"
	"path"
	"time"
)

// ServiceType identifies a storage backend kind.
type ServiceType string

const (
	ServiceLocal  ServiceType = "local"
	ServiceS3     ServiceType = "s3"
	ServiceGCS    ServiceType = "gs"
	ServiceGDrive ServiceType = "gdrive"
	ServiceSSH    ServiceType = "ssh"
	ServiceMemory ServiceType = "mem"
)

// ParseServiceType maps a URL scheme to a ServiceType.
func ParseServiceType(s string) (ServiceType, error) {
	switch s {
	case "file", "local":
		return ServiceLocal, nil
	case "s3":
		return ServiceS3, nil
	case "gs":
		return ServiceGCS, nil
	case "gdrive":
		return ServiceGDrive, nil
	case "ssh":
		return ServiceSSH, nil
	case "mem":
		return ServiceMemory, nil
	default:
		return "", fmt.Errorf("%w: unknown service type %q", ErrInvalidURL, s)
	}
}

// RecordKey is the identity tuple of a FileRecord. Two records with the same
// key describe the same entry on the same backend session.
type RecordKey struct {
	Filename       string
	Filepath       string
	URLName        string
	ServiceID      string
	ServiceType    ServiceType
	ServiceSession string
}

// FileRecord is the cached metadata for one entry on one backend.
// MD5Sum/SHA1Sum are empty until computed; a record without digests is a
// freshly discovered entry that has not been hashed yet.
type FileRecord struct {
	Filename       string
	Filepath       string
	URLName        string
	MD5Sum         string
	SHA1Sum        string
	MTime          int64 // unix seconds
	Size           int64
	ServiceID      string
	ServiceType    ServiceType
	ServiceSession string
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// Key returns the identity tuple for this record.
func (r *FileRecord) Key() RecordKey {
	return RecordKey{
		Filename:       r.Filename,
		Filepath:       r.Filepath,
		URLName:        r.URLName,
		ServiceID:      r.ServiceID,
		ServiceType:    r.ServiceType,
		ServiceSession: r.ServiceSession,
	}
}

// HasDigests reports whether both checksums have been computed.
func (r *FileRecord) HasDigests() bool {
	return r.MD5Sum != "" && r.SHA1Sum != ""
}

// NewFileRecord builds the cache record for an entry observed on ep.
// Hierarchical drives use the backend file ID as the service ID; everything
// else identifies entries by session alone.
func NewFileRecord(ep Endpoint, e Entry, itemURL string) *FileRecord {
	serviceID := ep.Session()
	if ep.ServiceType() == ServiceGDrive {
		serviceID = e.Ident
	}
	return &FileRecord{
		Filename:       path.Base(e.RelPath),
		Filepath:       e.Ident,
		URLName:        itemURL,
		MD5Sum:         e.MD5Sum,
		SHA1Sum:        e.SHA1Sum,
		MTime:          e.MTime,
		Size:           e.Size,
		ServiceID:      serviceID,
		ServiceType:    ep.ServiceType(),
		ServiceSession: ep.Session(),
	}
}
