/*
Package ingest provides queued data ingestion into a table of an Azure Data
Explorer style analytics service.

The client is handed a QueryClient connected to the service's data management
endpoint. From it the client periodically obtains a set of short-lived storage
endpoints (staging containers, notification queues, a status table) and an
identity token, all carrying embedded credentials. An ingestion stages the
payload in one of the containers, optionally opens a row in the status table,
and posts a JSON notification to one of the queues; the service does the rest
asynchronously.

# Creating a client

	client := ... // a QueryClient for https://ingest-<cluster>.<domain>
	in, err := ingest.New(client, "database", "table")
	if err != nil {
		// handle err
	}
	defer in.Close()

# Ingesting a local file

	_, err = in.FromFile(ctx, "/path/to/file.csv")

# Ingesting from a reader

	_, err = in.FromReader(ctx, r, ingest.FileFormat(ingest.JSON))

# Tracking the result

	result, err := in.FromFile(ctx, "/path/to/file.csv", ingest.ReportResultToTable())
	if err != nil {
		// handle err
	}
	rec := <-result.Wait(ctx)
	if err := rec.ToError(); err != nil {
		// the service rejected the ingestion
	}

Enqueuing an ingestion is not a guarantee of delivery; unless table reporting
was requested, a nil error only means the notification was accepted by the
queue.
*/
package ingest
