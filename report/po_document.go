package report

import (
	"bytes"
	"context"
	"html/template"

	"github.com/partsflow/partsflow/internal/procurement"
)

// PODocuments renders purchase orders as printable PDFs for handover to
// carriers and service centers.
type PODocuments struct {
	client *Client
	tmpl   *template.Template
}

// NewPODocuments constructs the renderer.
func NewPODocuments(client *Client) *PODocuments {
	return &PODocuments{
		client: client,
		tmpl:   template.Must(template.New("po").Parse(poTemplate)),
	}
}

// RenderPurchaseOrder produces the PDF bytes for one purchase order.
func (d *PODocuments) RenderPurchaseOrder(ctx context.Context, po procurement.PurchaseOrder) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.tmpl.Execute(&buf, po); err != nil {
		return nil, err
	}
	return d.client.ConvertHTML(ctx, buf.String())
}

const poTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: sans-serif; margin: 2em; }
h1 { font-size: 1.4em; }
table { width: 100%; border-collapse: collapse; margin-top: 1em; }
th, td { border: 1px solid #444; padding: 6px 8px; text-align: left; }
.meta { color: #333; margin: 0.2em 0; }
</style>
</head>
<body>
<h1>Purchase Order {{.Number}}</h1>
<p class="meta">Status: {{.Status}}</p>
<p class="meta">Priority: {{.Priority}}</p>
<p class="meta">Service center: {{.ServiceCenterID}}</p>
<p class="meta">Ordered at: {{.OrderedAt.Format "2006-01-02 15:04"}}</p>
{{if .RejectReason}}<p class="meta">Rejection reason: {{.RejectReason}}</p>{{end}}
<table>
<tr><th>#</th><th>Part</th><th>Number</th><th>HSN</th><th>Requested</th><th>Approved</th><th>Unit price</th><th>Status</th></tr>
{{range $i, $l := .Lines}}
<tr>
<td>{{$l.ID}}</td>
<td>{{$l.Ref.Name}}</td>
<td>{{$l.Ref.Number}}</td>
<td>{{$l.Ref.HSN}}</td>
<td>{{$l.Requested}}</td>
<td>{{$l.ApprovedQty}}</td>
<td>{{$l.UnitPrice}}</td>
<td>{{$l.Status}}</td>
</tr>
{{end}}
</table>
</body>
</html>`
