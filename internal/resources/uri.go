package resources

import (
	"net/url"
	"strings"

	"github.com/Azure/kusto-ingest-go/errors"
)

// URI represents a storage endpoint handle vended by the service: the resource URL plus
// the SAS credential carried in its query string. A URI is immutable after Parse; a
// handle extracted from the Manager stays usable after the pools that held it are
// replaced, because it carries its own credential.
type URI struct {
	u          *url.URL
	account    string
	objectName string
	sas        url.Values
}

// Parse parses a storage resource URI of the form
// https://<account>.<service>.<suffix>/<objectName>?<sas>.
func Parse(uri string) (*URI, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.ES(errors.OpMgmt, errors.KClientArgs, "could not parse resource URI %q: %v", uri, err)
	}
	if u.Scheme != "https" {
		return nil, errors.ES(errors.OpMgmt, errors.KClientArgs, "resource URI %q scheme must be https, was %q", uri, u.Scheme)
	}
	if u.Host == "" || strings.HasPrefix(u.Host, ".") {
		return nil, errors.ES(errors.OpMgmt, errors.KClientArgs, "resource URI %q does not have a valid host", uri)
	}
	objectName := strings.Trim(u.EscapedPath(), "/")
	if objectName == "" || strings.Contains(objectName, "/") {
		return nil, errors.ES(errors.OpMgmt, errors.KClientArgs, "resource URI %q does not name a single storage object", uri)
	}

	return &URI{
		u:          u,
		account:    u.Host,
		objectName: objectName,
		sas:        u.Query(),
	}, nil
}

// Account returns the storage account host, e.g. "account.blob.core.windows.net".
func (u *URI) Account() string {
	return u.account
}

// ObjectName returns the container, queue or table name addressed by the URI.
func (u *URI) ObjectName() string {
	return u.objectName
}

// SAS returns the shared access signature carried in the URI's query string.
func (u *URI) SAS() url.Values {
	return u.sas
}

// URL returns the underlying *url.URL.
func (u *URI) URL() *url.URL {
	return u.u
}

// String implements fmt.Stringer. It returns the full URI including the SAS.
func (u *URI) String() string {
	return u.u.String()
}
