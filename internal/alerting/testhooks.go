package alerting

import "net/http"

// Test hook used by tests outside this package.

func (n *Notifier) SetHTTPClient(c *http.Client) { n.client = c }
