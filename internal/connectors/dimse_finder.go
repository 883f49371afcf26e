package connectors

import (
	"context"
	"time"

	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/otcheredev/manifest-connector/pkg/dimse"
)

// dimseFinder runs C-FIND over pooled DIMSE associations to the connector's
// application entity.
type dimseFinder struct {
	pool *dimse.AssociationPool
}

func newDIMSEFinder(conn *models.Connector, callingAET string, timeout time.Duration) *dimseFinder {
	if conn.DICOM.CallingAET != "" {
		callingAET = conn.DICOM.CallingAET
	}

	return &dimseFinder{
		pool: dimse.NewAssociationPool(dimse.PoolConfig{
			AssociationConfig: dimse.AssociationConfig{
				Host:       conn.DICOM.Host,
				Port:       conn.DICOM.Port,
				CallingAET: callingAET,
				CalledAET:  conn.DICOM.AETitle,
				Timeout:    timeout,
			},
		}),
	}
}

func (f *dimseFinder) Find(ctx context.Context, req dimse.FindRequest) ([]dimse.Attributes, error) {
	assoc, err := f.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	results, err := assoc.CFind(ctx, req)
	if err != nil {
		// A failed association is not worth pooling.
		assoc.Close()
		return nil, err
	}

	f.pool.Put(assoc)
	return results, nil
}

func (f *dimseFinder) Close() error {
	return f.pool.Close()
}
