// Package deploy uploads packaged charts to a chart repository.
//
// The upload URL of the deploy target selects the transport:
//
//   - http:// and https:// URLs receive a multipart/form-data request per
//     chart, as accepted by ChartMuseum and Artifactory.
//   - oci:// URLs are pushed to with the Helm registry client.
//   - s3://bucket/prefix URLs are written with PutObject.
package deploy
